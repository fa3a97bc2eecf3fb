package index

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/coder/hnsw"
)

const (
	// trigramDims is the width of the hashed trigram vectors.
	trigramDims = 96
	// DefaultMaxDistance is the cosine distance above which a neighbor is
	// too far away to be offered as a suggestion.
	DefaultMaxDistance = 0.55
	// searchSlack widens the approximate search before exact re-ranking.
	searchSlack = 8
)

// FuzzyIndex suggests vocabulary entries close to a misspelled input.
// Entries are embedded as hashed character-trigram vectors and stored in an
// HNSW graph; candidates are re-ranked by exact cosine distance.
type FuzzyIndex struct {
	graph       *hnsw.Graph[string]
	vectors     map[string][]float32
	maxDistance float32
}

// NewFuzzyIndex builds a fuzzy index over words.
func NewFuzzyIndex(words []string) *FuzzyIndex {
	f := &FuzzyIndex{
		graph:       hnsw.NewGraph[string](),
		vectors:     make(map[string][]float32, len(words)),
		maxDistance: DefaultMaxDistance,
	}

	nodes := make([]hnsw.Node[string], 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, dup := f.vectors[w]; dup {
			continue
		}
		vec := embedTrigrams(w)
		f.vectors[w] = vec
		nodes = append(nodes, hnsw.MakeNode(w, vec))
	}
	if len(nodes) > 0 {
		f.graph.Add(nodes...)
	}
	return f
}

// Len returns the number of indexed entries.
func (f *FuzzyIndex) Len() int {
	return len(f.vectors)
}

// Nearest returns up to k entries closest to query, nearest first.
// Entries further than the maximum distance are not returned, and neither is
// an exact match of query.
func (f *FuzzyIndex) Nearest(query string, k int) []string {
	if query == "" || k <= 0 || len(f.vectors) == 0 {
		return nil
	}

	qvec := embedTrigrams(query)
	candidates := f.graph.Search(qvec, min(len(f.vectors), k+searchSlack))

	type scored struct {
		word string
		dist float32
	}
	ranked := make([]scored, 0, len(candidates))
	for _, n := range candidates {
		if n.Key == query {
			continue
		}
		d := hnsw.CosineDistance(qvec, f.vectors[n.Key])
		if d > f.maxDistance {
			continue
		}
		ranked = append(ranked, scored{n.Key, d})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].dist != ranked[j].dist {
			return ranked[i].dist < ranked[j].dist
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.word
	}
	return out
}

// embedTrigrams hashes the character trigrams of s (lowercased, with start and
// end markers) into a fixed-width, L2-normalized vector.
func embedTrigrams(s string) []float32 {
	vec := make([]float32, trigramDims)
	runes := []rune("^" + strings.ToLower(s) + "$")
	h := fnv.New32a()
	for i := 0; i+3 <= len(runes); i++ {
		h.Reset()
		h.Write([]byte(string(runes[i : i+3])))
		vec[h.Sum32()%trigramDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
