package worker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// networkCapture accumulates NetworkResource entries by listening to
// CDP Network events for the lifetime of one page navigation, per
// spec §4.3 step 3's "network resources (url, type, method, status,
// size, headers, timing)".
type pendingRequest struct {
	method    string
	startedAt time.Time
}

type networkCapture struct {
	mu         sync.Mutex
	resources  []NetworkResource
	sourceMaps map[string]string // response URL -> sourceMappingURL value, collected from headers
	pending    map[network.RequestID]pendingRequest
}

func newNetworkCapture() *networkCapture {
	return &networkCapture{
		sourceMaps: make(map[string]string),
		pending:    make(map[network.RequestID]pendingRequest),
	}
}

// attach wires CDP event callbacks onto browserCtx. Must be called
// before chromedp.Navigate runs so no response is missed.
func (n *networkCapture) attach(browserCtx context.Context) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			n.onRequestSent(e)
		case *network.EventResponseReceived:
			n.onResponseReceived(e)
		}
	})
}

func (n *networkCapture) onRequestSent(ev *network.EventRequestWillBeSent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[ev.RequestID] = pendingRequest{method: ev.Request.Method, startedAt: time.Now()}
}

func (n *networkCapture) onResponseReceived(ev *network.EventResponseReceived) {
	n.mu.Lock()
	defer n.mu.Unlock()

	req, ok := n.pending[ev.RequestID]
	timingMs := int64(0)
	method := ""
	if ok {
		timingMs = time.Since(req.startedAt).Milliseconds()
		method = req.method
		delete(n.pending, ev.RequestID)
	}

	headers := make(map[string]string, len(ev.Response.Headers))
	for k, v := range ev.Response.Headers {
		headers[strings.ToLower(k)] = stringifyHeaderValue(v)
	}

	size := int64(ev.Response.EncodedDataLength)

	n.resources = append(n.resources, NetworkResource{
		URL:      ev.Response.URL,
		Type:     string(ev.Type),
		Method:   method,
		Status:   int(ev.Response.Status),
		Size:     size,
		Headers:  headers,
		TimingMs: timingMs,
	})

	if sm, ok := headers["sourcemap"]; ok {
		n.sourceMaps[ev.Response.URL] = sm
	} else if sm, ok := headers["x-sourcemap"]; ok {
		n.sourceMaps[ev.Response.URL] = sm
	}
}

func stringifyHeaderValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// snapshot returns a defensive copy of everything captured so far.
func (n *networkCapture) snapshot() ([]NetworkResource, map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]NetworkResource, len(n.resources))
	copy(res, n.resources)
	maps := make(map[string]string, len(n.sourceMaps))
	for k, v := range n.sourceMaps {
		maps[k] = v
	}
	return res, maps
}

// enableNetwork returns the chromedp action that turns on the CDP
// Network domain for a page, required before any network events fire.
func enableNetwork() chromedp.Action {
	return network.Enable()
}
