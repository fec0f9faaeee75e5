package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"surfacescan/internal/apierror"
)

// Limits from spec §4.1: request bodies are capped at 1 MiB, JSON
// nesting at 10 levels, and individual strings at 1000 characters.
const (
	maxBodyBytes   = 1 << 20
	maxNestingDepth = 10
	maxStringLength = 1000
)

// DecodeAndValidate reads r.Body (capped at maxBodyBytes+1 so an
// oversized body is detected rather than silently truncated), checks
// its JSON shape against the nesting/string-length limits, then
// unmarshals it into dst.
func DecodeAndValidate(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return &apierror.ValidationError{Code: apierror.CodeInvalidJSON, Message: "failed to read request body"}
	}
	if len(data) > maxBodyBytes {
		return &apierror.ValidationError{Code: apierror.CodeInvalidJSON, Message: "request body exceeds 1 MiB"}
	}
	if len(data) == 0 {
		data = []byte("{}")
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return &apierror.ValidationError{Code: apierror.CodeInvalidJSON, Message: "malformed JSON body"}
	}
	if err := checkJSONShape(generic, 1); err != nil {
		return err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return &apierror.ValidationError{Code: apierror.CodeInvalidJSON, Message: "malformed JSON body"}
	}
	return nil
}

// checkJSONShape walks a decoded JSON value enforcing the nesting and
// string-length limits recursively.
func checkJSONShape(v interface{}, depth int) error {
	if depth > maxNestingDepth {
		return &apierror.ValidationError{
			Code:    apierror.CodeInvalidFieldFormat,
			Message: fmt.Sprintf("request body nesting exceeds %d levels", maxNestingDepth),
		}
	}
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if len(k) > maxStringLength {
				return &apierror.ValidationError{Code: apierror.CodeInvalidFieldFormat, Message: "field name too long", Field: k}
			}
			if err := checkJSONShape(child, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range val {
			if err := checkJSONShape(child, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > maxStringLength {
			return &apierror.ValidationError{
				Code:    apierror.CodeInvalidFieldFormat,
				Message: fmt.Sprintf("string value exceeds %d characters", maxStringLength),
			}
		}
	}
	return nil
}

// StripControlChars removes non-printable control characters (other
// than ordinary whitespace) from caller-supplied strings before they
// are persisted or echoed back, per spec §4.1's sanitization step.
func StripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
