// Package structured turns free-text model output into typed values that
// always carry every documented key, whatever the model actually returned.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Provenance records how a value was produced.
type Provenance string

const (
	// ProvenanceOK means the model output parsed as JSON.
	ProvenanceOK Provenance = "ok"
	// ProvenancePartial means JSON parsing failed and a salvage heuristic
	// recovered some content from the raw text.
	ProvenancePartial Provenance = "partial"
	// ProvenanceFallback means nothing usable was recovered and the value is
	// the fallback.
	ProvenanceFallback Provenance = "fallback"
)

// Invoker sends a prompt to a model backend and returns its raw text reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, prompt string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Salvager builds a value from raw output that failed to parse. It reports
// false when the text holds nothing worth keeping.
type Salvager[T any] func(raw string) (T, bool)

// Normalizer is implemented by values that need cleanup after a successful
// parse, such as replacing a null list with an empty one.
type Normalizer interface {
	Normalize()
}

// Result is the outcome of a structured call.
type Result[T any] struct {
	Value      T
	Provenance Provenance
	// Note describes parse trouble; empty on a clean parse.
	Note string
	// Missing lists top-level keys absent from the model output that were
	// filled from the fallback.
	Missing []string
	Raw     string
}

// Call invokes the model once and coerces its reply into T. fallback must
// return a fresh, fully populated value on every call. salvage may be nil.
//
// Only an invoke failure is returned as an error. Malformed output never is.
func Call[T any](ctx context.Context, inv Invoker, prompt string, fallback func() T, salvage Salvager[T]) (Result[T], error) {
	raw, err := inv.Invoke(ctx, prompt)
	if err != nil {
		return Result[T]{}, fmt.Errorf("invoking model: %w", err)
	}
	return Coerce(raw, fallback, salvage), nil
}

// Coerce applies the parse, back-fill and salvage steps to raw model output.
func Coerce[T any](raw string, fallback func() T, salvage Salvager[T]) Result[T] {
	res := Result[T]{Raw: raw}

	obj, err := ExtractObject(raw)
	if err == nil {
		v := fallback()
		if err = json.Unmarshal([]byte(obj), &v); err == nil {
			normalize(&v)
			res.Value = v
			res.Provenance = ProvenanceOK
			res.Missing = missingKeys(obj, fallback())
			if len(res.Missing) > 0 {
				slog.Debug("structured: keys filled from fallback", "keys", res.Missing)
			}
			return res
		}

		// A type mismatch still decodes the remaining fields.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			normalize(&v)
			res.Value = v
			res.Provenance = ProvenancePartial
			res.Note = fmt.Sprintf("field %q had unexpected type %s", typeErr.Field, typeErr.Value)
			res.Missing = missingKeys(obj, fallback())
			return res
		}
	}

	if salvage != nil {
		if v, ok := salvage(raw); ok {
			res.Value = v
			res.Provenance = ProvenancePartial
			res.Note = "JSON parsing failed, extracted partial information"
			return res
		}
	}

	slog.Warn("structured: unparseable model output, using fallback", "error", err)
	res.Value = fallback()
	res.Provenance = ProvenanceFallback
	res.Note = fmt.Sprintf("model output could not be parsed: %v", err)
	return res
}

// ExtractObject strips markdown code fences and conversational filler from
// s and returns the substring spanning the first '{' to the last '}'.
func ExtractObject(s string) (string, error) {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

func normalize(v any) {
	if n, ok := v.(Normalizer); ok {
		n.Normalize()
	}
}

// missingKeys reports the fallback's top-level keys that obj does not set.
func missingKeys[T any](obj string, fallback T) []string {
	var got map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &got); err != nil {
		return nil
	}
	b, err := json.Marshal(fallback)
	if err != nil {
		return nil
	}
	var want map[string]json.RawMessage
	if err := json.Unmarshal(b, &want); err != nil {
		return nil
	}

	var missing []string
	for k := range want {
		if _, ok := got[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}
