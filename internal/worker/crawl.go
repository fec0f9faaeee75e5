package worker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"
)

// robotsChecker answers whether the crawl may follow a given path on
// one origin, per spec §4.3 step 3 ("same-origin by default"
// combined with the robots.txt supplement in SPEC_FULL.md §C).
type robotsChecker struct {
	client    *http.Client
	userAgent string
	cache     map[string]*robotstxt.RobotsData // origin -> parsed robots.txt, nil if unavailable
}

func newRobotsChecker(client *http.Client, userAgent string) *robotsChecker {
	return &robotsChecker{client: client, userAgent: userAgent, cache: make(map[string]*robotstxt.RobotsData)}
}

func (r *robotsChecker) allowed(ctx context.Context, target *url.URL) bool {
	origin := target.Scheme + "://" + target.Host
	data, ok := r.cache[origin]
	if !ok {
		data = r.fetch(ctx, origin)
		r.cache[origin] = data
	}
	if data == nil {
		return true // robots.txt missing or unparseable: fail open, per robotstxt convention
	}
	group := data.FindGroup(r.userAgent)
	return group.Test(target.Path)
}

func (r *robotsChecker) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data
}

// sameOrigin reports whether candidate shares scheme+host with base,
// the boundary the BFS crawl never crosses (spec §4.3 step 3).
func sameOrigin(base, candidate *url.URL) bool {
	return strings.EqualFold(base.Scheme, candidate.Scheme) && strings.EqualFold(base.Host, candidate.Host)
}

// extractLinks walks the parsed DOM for anchor hrefs, resolving each
// against base and dropping anything that isn't http(s). Malformed
// markup is tolerated the same way a browser tolerates it: html.Parse
// never errors on its own, it just does its best with what it's given.
func extractLinks(rawHTML string, base *url.URL) []*url.URL {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var out []*url.URL
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				u, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(u)
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				resolved.Fragment = ""
				out = append(out, resolved)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}
