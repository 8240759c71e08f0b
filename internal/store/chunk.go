package store

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/pavelanni/assessor/internal/model"
)

const (
	ChunkSize    = 1000
	ChunkOverlap = 200
)

// SplitText cuts text into windows of at most size runes, each starting
// overlap runes before the previous one ended. A window prefers to end at a
// paragraph break, then a line break, then a space, as long as that keeps
// it over half full.
func SplitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = breakPoint(runes, start, end)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return out
}

func breakPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	half := (end - start) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			if n := len([]rune(window[:i])); n > half {
				return start + n + len([]rune(sep))
			}
		}
	}
	return end
}

// rankChunks orders chunks by relevance to the topic. With a query
// embedding, chunks carrying a vector of the same length come first by
// cosine similarity. The rest are ordered by how often the topic's words
// occur in them. Ties keep document order.
func rankChunks(chunks []model.Chunk, topic string, query []float32) {
	type scored struct {
		chunk  model.Chunk
		vector bool
		score  float64
	}
	terms := topicTerms(topic)
	all := make([]scored, len(chunks))
	for i, c := range chunks {
		all[i] = scored{chunk: c}
		if len(query) > 0 && len(c.Embedding) == len(query) {
			all[i].vector, all[i].score = true, cosine(query, c.Embedding)
		} else {
			all[i].score = termScore(c.Text, terms)
		}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		if a.vector != b.vector {
			if a.vector {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.score, a.score)
	})
	for i := range all {
		chunks[i] = all[i].chunk
	}
}

func topicTerms(topic string) []string {
	var terms []string
	for _, f := range strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func termScore(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	var n int
	for _, t := range terms {
		n += strings.Count(lower, t)
	}
	return float64(n)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
