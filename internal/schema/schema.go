// Package schema defines the typed output contracts for each reasoning
// persona (analyst, associate, partner) and the coercion rules that
// normalize common near-valid deviations before strict validation.
//
// Coercion is lenient on purpose: enum aliases are normalized, ranges are
// clamped, and array arities are padded or truncated to the contract bounds.
// Validation after coercion is strict and returns field-path errors that
// feed the gate's retry directive.
package schema

import (
	"bytes"
	"fmt"
	"strings"
)

// FieldError is one validation failure at a JSON field path.
type FieldError struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// ValidationErrors is an ordered list of field errors.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return v.Format()
}

// Empty reports whether validation passed.
func (v ValidationErrors) Empty() bool { return len(v) == 0 }

// Format renders the errors one per line for embedding in a retry directive.
func (v ValidationErrors) Format() string {
	if len(v) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(e.Error())
	}
	return b.String()
}

func (v *ValidationErrors) add(path, format string, args ...any) {
	*v = append(*v, FieldError{Path: path, Msg: fmt.Sprintf(format, args...)})
}

// CleanJSON strips markdown code fences and surrounding prose that reasoning
// units commonly wrap around their JSON payload, returning the first
// top-level JSON object or array.
func CleanJSON(raw []byte) []byte {
	s := bytes.TrimSpace(raw)

	if i := bytes.Index(s, []byte("```")); i >= 0 {
		s = s[i+3:]
		// Drop an optional language tag on the fence line.
		if j := bytes.IndexByte(s, '\n'); j >= 0 && j < 16 {
			s = s[j+1:]
		}
		if k := bytes.Index(s, []byte("```")); k >= 0 {
			s = s[:k]
		}
		s = bytes.TrimSpace(s)
	}

	// Trim any prose before the first brace/bracket and after the matching
	// close. A full bracket match is overkill here; last-index suffices for
	// the single-document outputs these contracts describe.
	start := bytes.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(s, closer)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

// clampScore bounds a rubric score to 0-100.
func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// truncateAll trims each string and drops empties, capping the result at n.
func truncateAll(in []string, n int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
