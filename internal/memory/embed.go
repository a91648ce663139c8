package memory

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// EmbeddingDim is the width of vectors produced by HashEmbedding.
const EmbeddingDim = 256

// HashEmbedding maps text to a normalized bag-of-words vector using the
// hashing trick over words and adjacent word pairs. It needs no model and
// is deterministic across runs.
func HashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbeddingDim)

	words := tokenize(text)
	for i, w := range words {
		addFeature(vec, w, 1)
		if i > 0 {
			addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		// chromem rejects zero vectors.
		vec[0] = 1
		return vec, nil
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % EmbeddingDim
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len(w) > 1 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "are": true, "was": true,
	"not": true, "but": true, "use": true, "when": true, "then": true,
	"of": true, "to": true, "in": true, "on": true, "is": true, "it": true,
	"an": true, "be": true, "or": true, "as": true, "at": true, "by": true,
}
