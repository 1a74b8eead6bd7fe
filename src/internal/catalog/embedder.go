package catalog

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder hashes character n-grams into a fixed number of buckets. It needs
// no model download and handles Chinese names as well as Latin formulas.
type Embedder struct {
	dim int
}

func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = 256
	}
	return &Embedder{dim: dim}
}

// Embed implements chromem.EmbeddingFunc. The result is L2-normalized; text
// without any letters or digits maps onto a fixed unit vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		runes := []rune(tok)
		for _, r := range runes {
			vec[e.bucket(string(r))] += 0.5
		}
		padded := append(append([]rune{' '}, runes...), ' ')
		for i := 0; i+3 <= len(padded); i++ {
			vec[e.bucket(string(padded[i:i+3]))]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func (e *Embedder) bucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(e.dim))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
