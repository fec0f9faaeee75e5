package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacescan/internal/apierror"
)

func newJSONRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestDecodeAndValidate_Valid(t *testing.T) {
	var dst struct {
		URL string `json:"url"`
	}
	err := DecodeAndValidate(newJSONRequest(`{"url":"https://example.com"}`), &dst)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", dst.URL)
}

func TestDecodeAndValidate_EmptyBodyDefaultsToEmptyObject(t *testing.T) {
	var dst struct {
		URL string `json:"url"`
	}
	err := DecodeAndValidate(newJSONRequest(""), &dst)
	require.NoError(t, err)
	assert.Empty(t, dst.URL)
}

func TestDecodeAndValidate_MalformedJSON(t *testing.T) {
	var dst struct{}
	err := DecodeAndValidate(newJSONRequest(`{"url":`), &dst)
	require.Error(t, err)
	var verr *apierror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apierror.CodeInvalidJSON, verr.Code)
}

func TestDecodeAndValidate_BodyTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("a"), maxBodyBytes+2)
	body := `{"url":"` + string(big) + `"}`
	var dst struct{}
	err := DecodeAndValidate(newJSONRequest(body), &dst)
	require.Error(t, err)
	var verr *apierror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apierror.CodeInvalidJSON, verr.Code)
}

func TestDecodeAndValidate_StringTooLong(t *testing.T) {
	long := strings.Repeat("a", maxStringLength+1)
	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeAndValidate(newJSONRequest(`{"name":"`+long+`"}`), &dst)
	require.Error(t, err)
	var verr *apierror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apierror.CodeInvalidFieldFormat, verr.Code)
}

func TestDecodeAndValidate_NestingTooDeep(t *testing.T) {
	body := strings.Repeat(`{"a":`, maxNestingDepth+2) + "1" + strings.Repeat("}", maxNestingDepth+2)
	var dst map[string]interface{}
	err := DecodeAndValidate(newJSONRequest(body), &dst)
	require.Error(t, err)
	var verr *apierror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, apierror.CodeInvalidFieldFormat, verr.Code)
}

func TestStripControlChars(t *testing.T) {
	assert.Equal(t, "hello world", StripControlChars("hello world"))
	assert.Equal(t, "line1\nline2", StripControlChars("line1\nline2"))
	assert.Equal(t, "ab", StripControlChars("a\x00\x07b"))
	assert.Equal(t, "tab\there", StripControlChars("tab\there"))
}
