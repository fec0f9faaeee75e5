package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"surfacescan/internal/config"
	"surfacescan/internal/ssrf"
)

// newSSRFSafeClient builds an http.Client whose Transport re-validates
// every dial target against the SSRF policy, not just the original
// request URL — redirects are followed with resolved absolute URLs per
// spec §4.3 step 5, so the policy must be enforced at dial time, not
// just at request-construction time.
func newSSRFSafeClient(cfg *config.SSRFConfig, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if _, err := ssrf.ValidateTargetURLWithResolver(ctx, "http://"+host, cfg, ssrf.DefaultResolver); err != nil {
				return nil, fmt.Errorf("ssrf: dial to %s rejected: %w", addr, err)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		DisableCompression: true, // the transport adds no Accept-Encoding and decodes no response body (doFetchOne asks for identity)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			if _, err := ssrf.ValidateTargetURL(req.Context(), req.URL.String(), cfg); err != nil {
				return err
			}
			return nil
		},
	}
}
