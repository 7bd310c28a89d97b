// Package extract recovers structured payloads from free-form model
// output. Model responses wrap their JSON in markdown fences, prose, or
// provider-specific envelope keys; the extractor tries the known shapes
// in order and reports what it found without ever raising.
package extract

import (
	"encoding/json"
	"strings"
)

const excerptLimit = 500

var confidenceKeys = []string{"confidence", "confidence_score"}

// Options configures which envelope shapes an extractor recognizes.
type Options struct {
	// WrapperKeys are tried in order; the first whose value is an
	// object yields that object as the payload.
	WrapperKeys []string
	// ShapeKeys mark the decoded root itself as the payload when any
	// of them is present and no wrapper matched.
	ShapeKeys []string
}

// Result is the outcome of one extraction. Found is false when no
// decodable object with a recognized shape exists in the text; Excerpt
// always carries a bounded prefix of the raw input for diagnostics.
type Result struct {
	Found      bool
	Payload    map[string]any
	Confidence float64
	Excerpt    string
}

type Extractor struct {
	wrapperKeys []string
	shapeKeys   []string
}

func New(opts Options) *Extractor {
	return &Extractor{
		wrapperKeys: opts.WrapperKeys,
		shapeKeys:   opts.ShapeKeys,
	}
}

// Extract scans text for a structured payload. Fenced code blocks are
// preferred over loose JSON in prose; in both passes the last decodable
// object wins, since models tend to emit corrected output after a
// false start.
func (e *Extractor) Extract(text string) Result {
	trimmed := strings.TrimSpace(text)
	result := Result{Excerpt: excerpt(trimmed)}
	if trimmed == "" {
		return result
	}

	root := lastFencedObject(trimmed)
	if root == nil {
		root = lastObject(trimmed)
	}
	if root == nil {
		return result
	}

	payload := e.unwrap(root)
	if payload == nil {
		return result
	}

	result.Found = true
	result.Payload = payload
	result.Confidence = confidenceOf(root, payload)
	return result
}

// unwrap resolves the envelope: wrapper keys first, then the root
// itself when it already exhibits the expected shape. Scalar siblings
// of a wrapper (confidence, reasoning) are folded into the payload so
// callers see one flat object.
func (e *Extractor) unwrap(root map[string]any) map[string]any {
	for _, key := range e.wrapperKeys {
		sub, ok := root[key].(map[string]any)
		if !ok {
			continue
		}
		payload := make(map[string]any, len(sub)+len(root))
		for k, v := range sub {
			payload[k] = v
		}
		for k, v := range root {
			if k == key {
				continue
			}
			switch v.(type) {
			case map[string]any, []any:
				continue
			}
			if _, exists := payload[k]; !exists {
				payload[k] = v
			}
		}
		return payload
	}
	for _, key := range e.shapeKeys {
		if _, ok := root[key]; ok {
			return root
		}
	}
	return nil
}

// lastFencedObject decodes every ``` fenced block and returns the last
// one containing a JSON object. The language tag on the opening fence
// is ignored.
func lastFencedObject(text string) map[string]any {
	var last map[string]any
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		rest = rest[open+3:]
		closing := strings.Index(rest, "```")
		if closing < 0 {
			break
		}
		block := rest[:closing]
		rest = rest[closing+3:]
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			block = block[nl+1:]
		} else {
			// Single-line fence: drop a leading language tag if the
			// content does not start at a brace.
			block = strings.TrimSpace(block)
			if !strings.HasPrefix(block, "{") {
				if brace := strings.IndexByte(block, '{'); brace >= 0 {
					block = block[brace:]
				}
			}
		}
		if obj := lastObject(block); obj != nil {
			last = obj
		}
	}
	return last
}

// lastObject walks text and structurally decodes every top-level JSON
// object it can find, returning the last one. Decoding is a real parse
// from each opening brace, not a regex, so braces inside strings do
// not confuse it.
func lastObject(text string) map[string]any {
	var last map[string]any
	for i := 0; i < len(text); {
		if text[i] != '{' {
			i++
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var v any
		if err := dec.Decode(&v); err == nil {
			if m, ok := v.(map[string]any); ok {
				last = m
				i += int(dec.InputOffset())
				continue
			}
		}
		i++
	}
	return last
}

// confidenceOf reads the model's self-reported confidence from the
// envelope or the payload. Values above 1 are percentages; the result
// is clamped to [0, 1].
func confidenceOf(root, payload map[string]any) float64 {
	for _, m := range []map[string]any{root, payload} {
		for _, key := range confidenceKeys {
			if raw, ok := m[key]; ok {
				if f, ok := asFloat(raw); ok {
					return normalizeConfidence(f)
				}
			}
		}
	}
	return 0
}

func normalizeConfidence(f float64) float64 {
	if f > 1 {
		f /= 100
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func excerpt(text string) string {
	if len(text) <= excerptLimit {
		return text
	}
	return text[:excerptLimit]
}
