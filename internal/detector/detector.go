// Package detector identifies client-side JavaScript libraries and their
// versions from rendered script content. It runs several independent
// detection methods over the same script and consolidates their results
// by library name, per spec §4.6.
//
// Each method degrades gracefully: a parse failure or an absence of
// signal yields zero detections for that method rather than aborting
// the scan, mirroring the teacher's multi-method classifier pattern in
// internal/classification/multi_method_classifier.go (run every method,
// tolerate individual failures, merge by confidence).
package detector

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Method names a single detection technique. Consolidated detections
// list every method that contributed.
type Method string

const (
	MethodURLPattern    Method = "url_pattern"
	MethodCommentScan   Method = "comment_scan"
	MethodSourceMap     Method = "source_map"
	MethodSignature     Method = "signature_pattern"
	MethodVersionString Method = "version_string"
)

// Detection is one method's finding about a library present in a script.
type Detection struct {
	Name       string
	Version    string // empty when undetermined
	Confidence int    // 0-100
	Method     Method
	Evidence   string
}

// Input bundles everything a method may draw on. SourceURL and
// SourceMap are optional — inline scripts carry neither.
type Input struct {
	SourceURL string
	Content   string
	SourceMap []byte // raw JSON, optional
}

// Detector runs all detection methods and consolidates their output.
type Detector struct {
	logger *zap.Logger
}

// New builds a Detector. logger may be nil, in which case a no-op
// logger is used.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect runs every applicable method over in and returns consolidated
// detections ordered by confidence descending, per spec §4.6.
func (d *Detector) Detect(ctx context.Context, in Input) []Detection {
	type methodFunc func(Input) []Detection

	methods := []methodFunc{
		detectByURLPattern,
		detectByCommentScan,
		detectBySignature,
		detectByVersionString,
	}
	if len(in.SourceMap) > 0 {
		methods = append(methods, detectBySourceMap)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Detection
	)
	for _, m := range methods {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Warn("detection method panicked, skipping", zap.Any("recover", r))
				}
			}()
			found := m(in)
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	consolidated := Consolidate(results)
	sort.SliceStable(consolidated, func(i, j int) bool {
		return consolidated[i].Confidence > consolidated[j].Confidence
	})
	return consolidated
}

// ConsolidatedDetection merges every method's findings for one library
// name: the spec's "keep max(confidence), prefer any non-empty version,
// concatenate methods, union evidence" rule.
type ConsolidatedDetection struct {
	Name       string
	Version    string
	Confidence int
	Methods    []Method
	Evidence   []string
}

// Consolidate groups raw per-method Detections by library name and
// applies the spec §4.6 merge rule.
func Consolidate(detections []Detection) []Detection {
	byName := make(map[string]*ConsolidatedDetection)
	order := make([]string, 0, len(detections))

	for _, det := range detections {
		c, ok := byName[det.Name]
		if !ok {
			c = &ConsolidatedDetection{Name: det.Name}
			byName[det.Name] = c
			order = append(order, det.Name)
		}
		if det.Confidence > c.Confidence {
			c.Confidence = det.Confidence
		}
		if c.Version == "" && det.Version != "" {
			c.Version = det.Version
		}
		c.Methods = appendMethodIfAbsent(c.Methods, det.Method)
		if det.Evidence != "" {
			c.Evidence = append(c.Evidence, det.Evidence)
		}
	}

	out := make([]Detection, 0, len(order))
	for _, name := range order {
		c := byName[name]
		out = append(out, Detection{
			Name:       c.Name,
			Version:    c.Version,
			Confidence: c.Confidence,
			Method:     joinMethods(c.Methods),
			Evidence:   joinEvidence(c.Evidence),
		})
	}
	return out
}

func appendMethodIfAbsent(methods []Method, m Method) []Method {
	for _, existing := range methods {
		if existing == m {
			return methods
		}
	}
	return append(methods, m)
}

func joinMethods(methods []Method) Method {
	if len(methods) == 0 {
		return ""
	}
	s := string(methods[0])
	for _, m := range methods[1:] {
		s += "+" + string(m)
	}
	return Method(s)
}

func joinEvidence(evidence []string) string {
	if len(evidence) == 0 {
		return ""
	}
	s := evidence[0]
	for _, e := range evidence[1:] {
		if e == s {
			continue
		}
		s += " | " + e
	}
	return s
}
