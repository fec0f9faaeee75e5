// Package ssrf implements the target-URL validation policy shared by
// the API gateway (at submission time) and the render worker (again,
// at browse time): reject non-http(s) schemes, reject denied ports,
// and reject any hostname that resolves to a private, loopback, or
// link-local address, per spec §4.1/§4.3/§8.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"surfacescan/internal/config"
)

// ErrInvalidTarget is returned for any policy violation; callers
// surface it as the API's stable "Invalid or disallowed target URL"
// 400 response, per spec §4.1.
var ErrInvalidTarget = errors.New("invalid or disallowed target URL")

// ErrResolutionFailed is returned when DNS resolution itself fails,
// surfaced as "Failed to resolve target host" per spec §4.1.
var ErrResolutionFailed = errors.New("failed to resolve target host")

// privateV4 and privateV6 are the blocks spec §4.1 names explicitly.
var privateV4 = mustParseCIDRs(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

var privateV6 = mustParseCIDRs(
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("ssrf: invalid CIDR literal %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// IsPrivateOrReserved reports whether ip falls in one of the blocks
// spec §4.1 requires rejecting.
func IsPrivateOrReserved(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, n := range privateV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range privateV6 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver is the subset of net.Resolver this package depends on, so
// tests can substitute a fake without a real DNS lookup.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DefaultResolver is the standard-library resolver used in production.
var DefaultResolver Resolver = net.DefaultResolver

// ValidateTargetURL parses rawURL, checks its scheme and port against
// cfg, resolves its host, and rejects the target if any resolved
// address is private/loopback/link-local (unless cfg.AllowLoopback is
// set, e.g. for local development).
func ValidateTargetURL(ctx context.Context, rawURL string, cfg *config.SSRFConfig) (*url.URL, error) {
	return ValidateTargetURLWithResolver(ctx, rawURL, cfg, DefaultResolver)
}

// ValidateTargetURLWithResolver is ValidateTargetURL with an injectable
// resolver, used by tests.
func ValidateTargetURLWithResolver(ctx context.Context, rawURL string, cfg *config.SSRFConfig, resolver Resolver) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: unparseable URL", ErrInvalidTarget)
	}

	if !schemeAllowed(u.Scheme, cfg.AllowedSchemes) {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidTarget, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	if net.ParseIP(host) == nil {
		// Normalize internationalized hostnames to their ASCII
		// (punycode) form before any resolution or suffix check, so a
		// homoglyph or confusable label can't slip past the checks
		// below under a different encoding.
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hostname encoding", ErrInvalidTarget)
		}
		if ascii != host {
			if portStr := u.Port(); portStr != "" {
				u.Host = ascii + ":" + portStr
			} else {
				u.Host = ascii
			}
		}
		host = ascii

		// A bare public suffix (e.g. "co.uk", or a raw TLD) has no
		// registrable owner and is never a legitimate scan target.
		// Skipped under AllowLoopback, which also permits single-label
		// dev hostnames like "localhost" that have no eTLD+1 at all.
		if !cfg.AllowLoopback {
			if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
				return nil, fmt.Errorf("%w: hostname has no registrable domain", ErrInvalidTarget)
			}
		}
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port", ErrInvalidTarget)
		}
		for _, denied := range cfg.DeniedPorts {
			if port == denied {
				return nil, fmt.Errorf("%w: port %d is denied", ErrInvalidTarget, port)
			}
		}
	}

	if literal := net.ParseIP(host); literal != nil {
		if !cfg.AllowLoopback && IsPrivateOrReserved(literal) {
			return nil, fmt.Errorf("%w: target resolves to a private address", ErrInvalidTarget)
		}
		return u, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, cfg.ResolveTimeout)
	defer cancel()

	addrs, err := resolver.LookupIPAddr(resolveCtx, host)
	if err != nil || len(addrs) == 0 {
		return nil, ErrResolutionFailed
	}

	if !cfg.AllowLoopback {
		for _, addr := range addrs {
			if IsPrivateOrReserved(addr.IP) {
				return nil, fmt.Errorf("%w: target resolves to a private address", ErrInvalidTarget)
			}
		}
	}

	return u, nil
}

func schemeAllowed(scheme string, allowed []string) bool {
	for _, a := range allowed {
		if scheme == a {
			return true
		}
	}
	return false
}
