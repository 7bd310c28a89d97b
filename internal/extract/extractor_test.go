package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookExtractor() *Extractor {
	return New(Options{
		WrapperKeys: []string{"book_data", "book", "book_identification", "data", "metadata"},
		ShapeKeys:   []string{"title", "isbn_13", "authors"},
	})
}

func TestExtractFencedBlock(t *testing.T) {
	text := "Here is the identification:\n```json\n{\"title\": \"Dune\", \"authors\": [\"Frank Herbert\"], \"confidence\": 0.92}\n```\nLet me know if you need more."

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "Dune", res.Payload["title"])
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
}

func TestExtractPrefersLastFencedBlock(t *testing.T) {
	text := "First attempt:\n```json\n{\"title\": \"Dune\"}\n```\nActually, correcting myself:\n```json\n{\"title\": \"Dune Messiah\"}\n```"

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "Dune Messiah", res.Payload["title"])
}

func TestExtractRawObjectInProse(t *testing.T) {
	text := `The book appears to be {"title": "Neuromancer", "confidence": 87} based on the cover.`

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "Neuromancer", res.Payload["title"])
	assert.InDelta(t, 0.87, res.Confidence, 1e-9, "percent confidences normalize to [0,1]")
}

func TestExtractBracesInsideStrings(t *testing.T) {
	text := `{"title": "The { Unbalanced } Brace", "authors": ["A. Writer"]}`

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "The { Unbalanced } Brace", res.Payload["title"])
}

func TestExtractUnwrapsWrapperKeys(t *testing.T) {
	text := `{"book_data": {"title": "Solaris", "authors": ["Stanislaw Lem"]}, "confidence": 0.8, "reasoning": "clear cover shot"}`

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "Solaris", res.Payload["title"])
	// Scalar siblings of the wrapper fold into the payload.
	assert.Equal(t, "clear cover shot", res.Payload["reasoning"])
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestExtractRootShapeFallback(t *testing.T) {
	text := `{"isbn_13": "9780441013593", "publisher": "Ace"}`

	res := bookExtractor().Extract(text)

	require.True(t, res.Found)
	assert.Equal(t, "9780441013593", res.Payload["isbn_13"])
}

func TestExtractRejectsUnrecognizedShape(t *testing.T) {
	res := bookExtractor().Extract(`{"weather": "sunny", "unrelated": true}`)

	assert.False(t, res.Found)
	assert.Nil(t, res.Payload)
	assert.Zero(t, res.Confidence)
}

func TestExtractEmptyAndGarbageInputs(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t  "},
		{"prose only", "I could not identify the book from these photos."},
		{"broken json", `{"title": "Dune", "authors": [`},
		{"empty fence", "```json\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := bookExtractor().Extract(tt.text)
			assert.False(t, res.Found)
			assert.Zero(t, res.Confidence)
		})
	}
}

func TestExtractKeepsExcerptBounded(t *testing.T) {
	res := bookExtractor().Extract(strings.Repeat("x", 5000))

	assert.False(t, res.Found)
	assert.Len(t, res.Excerpt, 500)
}

// Extraction over a payload's own serialization must reproduce the
// payload, so retried deliveries re-extract identically.
func TestExtractIdempotentOverSerialization(t *testing.T) {
	res := bookExtractor().Extract(`{"title": "Hyperion", "authors": ["Dan Simmons"], "page_count": 482, "confidence": 0.75}`)
	require.True(t, res.Found)

	raw, err := json.Marshal(res.Payload)
	require.NoError(t, err)

	again := bookExtractor().Extract(string(raw))
	require.True(t, again.Found)
	assert.Equal(t, res.Payload, again.Payload)
	assert.Equal(t, res.Confidence, again.Confidence)
}

func TestExtractConfidenceClamped(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`{"title": "A", "confidence": 0.5}`, 0.5},
		{`{"title": "A", "confidence": 85}`, 0.85},
		{`{"title": "A", "confidence_score": 100}`, 1},
		{`{"title": "A", "confidence": -3}`, 0},
		{`{"title": "A"}`, 0},
	}

	for _, tt := range tests {
		res := bookExtractor().Extract(tt.raw)
		require.True(t, res.Found, tt.raw)
		assert.InDelta(t, tt.want, res.Confidence, 1e-9, tt.raw)
	}
}

func TestDecode(t *testing.T) {
	type meta struct {
		Title   string   `json:"title"`
		Authors []string `json:"authors"`
		Pages   int      `json:"page_count"`
	}

	var m meta
	err := Decode(map[string]any{
		"title":      "Roadside Picnic",
		"authors":    []any{"Arkady Strugatsky", "Boris Strugatsky"},
		"page_count": float64(224),
		"ignored":    "extra",
	}, &m)

	require.NoError(t, err)
	assert.Equal(t, "Roadside Picnic", m.Title)
	assert.Equal(t, []string{"Arkady Strugatsky", "Boris Strugatsky"}, m.Authors)
	assert.Equal(t, 224, m.Pages)
}
