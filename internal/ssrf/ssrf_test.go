package ssrf

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacescan/internal/config"
)

type fakeResolver map[string][]net.IPAddr

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func testCfg() *config.SSRFConfig {
	return &config.SSRFConfig{
		AllowedSchemes: []string{"http", "https"},
		DeniedPorts:    []int{22, 3389},
		ResolveTimeout: time.Second,
		AllowLoopback:  false,
	}
}

func TestValidateTargetURL_RejectsPrivateLiteralIPv4(t *testing.T) {
	cases := []string{
		"http://10.0.0.5/",
		"http://127.0.0.1/",
		"http://169.254.1.1/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
	}
	for _, raw := range cases {
		_, err := ValidateTargetURL(context.Background(), raw, testCfg())
		assert.ErrorIs(t, err, ErrInvalidTarget, "expected rejection for %s", raw)
	}
}

func TestValidateTargetURL_RejectsPrivateLiteralIPv6(t *testing.T) {
	cases := []string{
		"http://[::1]/",
		"http://[fc00::1]/",
		"http://[fe80::1]/",
	}
	for _, raw := range cases {
		_, err := ValidateTargetURL(context.Background(), raw, testCfg())
		assert.ErrorIs(t, err, ErrInvalidTarget, "expected rejection for %s", raw)
	}
}

func TestValidateTargetURL_RejectsDeniedScheme(t *testing.T) {
	_, err := ValidateTargetURL(context.Background(), "ftp://example.com/", testCfg())
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidateTargetURL_RejectsDeniedPort(t *testing.T) {
	resolver := fakeResolver{"example.com": {{IP: net.ParseIP("93.184.216.34")}}}
	_, err := ValidateTargetURLWithResolver(context.Background(), "http://example.com:22/", testCfg(), resolver)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidateTargetURL_RejectsHostnameResolvingPrivate(t *testing.T) {
	resolver := fakeResolver{"internal.corp": {{IP: net.ParseIP("10.1.2.3")}}}
	_, err := ValidateTargetURLWithResolver(context.Background(), "http://internal.corp/", testCfg(), resolver)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidateTargetURL_AllowsPublicHostname(t *testing.T) {
	resolver := fakeResolver{"example.com": {{IP: net.ParseIP("93.184.216.34")}}}
	u, err := ValidateTargetURLWithResolver(context.Background(), "https://example.com/path", testCfg(), resolver)
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Hostname())
}

func TestValidateTargetURL_ResolutionFailureIsDistinctError(t *testing.T) {
	resolver := fakeResolver{}
	_, err := ValidateTargetURLWithResolver(context.Background(), "http://nowhere.invalid/", testCfg(), resolver)
	assert.ErrorIs(t, err, ErrResolutionFailed)
}

func TestValidateTargetURL_NormalizesIDNHostnameBeforeResolving(t *testing.T) {
	resolver := fakeResolver{"xn--mnchen-3ya.example": {{IP: net.ParseIP("93.184.216.34")}}}
	u, err := ValidateTargetURLWithResolver(context.Background(), "https://münchen.example/path", testCfg(), resolver)
	require.NoError(t, err)
	assert.Equal(t, "xn--mnchen-3ya.example", u.Hostname())
}

func TestValidateTargetURL_RejectsBarePublicSuffix(t *testing.T) {
	resolver := fakeResolver{"co.uk": {{IP: net.ParseIP("93.184.216.34")}}}
	_, err := ValidateTargetURLWithResolver(context.Background(), "http://co.uk/", testCfg(), resolver)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestValidateTargetURL_AllowLoopbackSkipsPublicSuffixCheck(t *testing.T) {
	cfg := testCfg()
	cfg.AllowLoopback = true
	resolver := fakeResolver{"localhost": {{IP: net.ParseIP("127.0.0.1")}}}
	u, err := ValidateTargetURLWithResolver(context.Background(), "http://localhost:8080/", cfg, resolver)
	require.NoError(t, err)
	assert.Equal(t, "localhost", u.Hostname())
}
