package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectByURLPattern_CDNWithVersion(t *testing.T) {
	dets := detectByURLPattern(Input{SourceURL: "https://cdnjs.cloudflare.com/ajax/libs/jquery/3.6.0/jquery.min.js"})
	require.Len(t, dets, 1)
	assert.Equal(t, "jquery", dets[0].Name)
	assert.Equal(t, "3.6.0", dets[0].Version)
	assert.Equal(t, 80, dets[0].Confidence)
}

func TestDetectByURLPattern_NpmNoVersion(t *testing.T) {
	dets := detectByURLPattern(Input{SourceURL: "https://unpkg.com/lodash/lodash.min.js"})
	require.Len(t, dets, 1)
	assert.Equal(t, "lodash", dets[0].Name)
	assert.Empty(t, dets[0].Version)
	assert.Equal(t, 40, dets[0].Confidence)
}

func TestDetectByCommentScan_Banner(t *testing.T) {
	content := "/*! jQuery v3.6.0 | (c) OpenJS Foundation and other contributors */\n(function(){})();"
	dets := detectByCommentScan(Input{Content: content})
	require.Len(t, dets, 1)
	assert.Equal(t, "jQuery", dets[0].Name)
	assert.Equal(t, "3.6.0", dets[0].Version)
}

func TestDetectBySourceMap_NodeModulesWithVersion(t *testing.T) {
	sm := `{"version":3,"sources":["webpack:///./node_modules/react@18.2.0/index.js","webpack:///./src/app.js"]}`
	dets := detectBySourceMap(Input{SourceMap: []byte(sm)})
	require.Len(t, dets, 1)
	assert.Equal(t, "react", dets[0].Name)
	assert.Equal(t, "18.2.0", dets[0].Version)
	assert.Equal(t, 85, dets[0].Confidence)
}

func TestDetectBySourceMap_MalformedDegradesGracefully(t *testing.T) {
	dets := detectBySourceMap(Input{SourceMap: []byte("not json")})
	assert.Empty(t, dets)
}

func TestDetectBySignature_React(t *testing.T) {
	dets := detectBySignature(Input{Content: "var el = React.createElement('div', null);"})
	require.Len(t, dets, 1)
	assert.Equal(t, "react", dets[0].Name)
}

func TestDetectByVersionString(t *testing.T) {
	dets := detectByVersionString(Input{Content: `Vue.version = "3.2.47";`})
	require.Len(t, dets, 1)
	assert.Equal(t, "Vue", dets[0].Name)
	assert.Equal(t, "3.2.47", dets[0].Version)
	assert.Equal(t, 95, dets[0].Confidence)
}

func TestConsolidate_KeepsMaxConfidenceAndNonEmptyVersion(t *testing.T) {
	in := []Detection{
		{Name: "react", Confidence: 40, Method: MethodURLPattern, Evidence: "url-hit"},
		{Name: "react", Version: "18.2.0", Confidence: 85, Method: MethodSourceMap, Evidence: "sourcemap-hit"},
		{Name: "react", Confidence: 60, Method: MethodSignature, Evidence: "signature-hit"},
	}
	out := Consolidate(in)
	require.Len(t, out, 1)
	assert.Equal(t, "react", out[0].Name)
	assert.Equal(t, "18.2.0", out[0].Version)
	assert.Equal(t, 85, out[0].Confidence)
	assert.Contains(t, string(out[0].Method), "url_pattern")
	assert.Contains(t, string(out[0].Method), "source_map")
	assert.Contains(t, string(out[0].Method), "signature_pattern")
}

func TestDetector_Detect_OrdersByConfidenceDescending(t *testing.T) {
	d := New(nil)
	in := Input{
		SourceURL: "https://cdnjs.cloudflare.com/ajax/libs/jquery/3.6.0/jquery.min.js",
		Content:   `jQuery.fn.jquery = "3.6.0"; Vue.version = "3.2.47";`,
	}
	dets := d.Detect(context.Background(), in)
	require.NotEmpty(t, dets)
	for i := 1; i < len(dets); i++ {
		assert.GreaterOrEqual(t, dets[i-1].Confidence, dets[i].Confidence)
	}
}
