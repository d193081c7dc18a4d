package verification

import (
	"sort"

	"github.com/coder/hnsw"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

// Match is the best gallery entry for a probe. Found is false when no entry
// scored above zero.
type Match struct {
	Entry recognition.Entry
	Score float64
	Found bool
}

// Matcher finds the stored embedding most similar to a probe.
type Matcher interface {
	Best(probe recognition.Embedding) Match
	Len() int
}

// NewMatcher builds the matcher selected by index ("linear" or "hnsw").
func NewMatcher(index string, entries []recognition.Entry) Matcher {
	if index == "hnsw" {
		return NewHNSWMatcher(entries)
	}
	return NewLinearMatcher(entries)
}

// consider applies the selection rule: the running best starts at zero and
// only a strictly greater score replaces it, so ties keep the earlier entry
// and non-positive scores never match.
func consider(best *Match, e recognition.Entry, score float64) {
	if score > best.Score {
		best.Entry = e
		best.Score = score
		best.Found = true
	}
}

// LinearMatcher scans every entry in gallery order.
type LinearMatcher struct {
	entries []recognition.Entry
}

// NewLinearMatcher creates an exact matcher over entries.
func NewLinearMatcher(entries []recognition.Entry) *LinearMatcher {
	return &LinearMatcher{entries: entries}
}

// Best returns the highest scoring entry.
func (m *LinearMatcher) Best(probe recognition.Embedding) Match {
	var best Match
	for _, e := range m.entries {
		consider(&best, e, recognition.CosineSimilarity(probe, e.Embedding))
	}
	return best
}

// Len returns the number of entries.
func (m *LinearMatcher) Len() int {
	return len(m.entries)
}

const (
	hnswMaxNeighbors = 16
	hnswEfSearch     = 64
	hnswCandidates   = 32
)

// HNSWMatcher finds candidates through an HNSW graph with cosine distance
// and rescores them exactly. Entries whose dimension differs from the first
// entry are left out of the graph.
type HNSWMatcher struct {
	entries []recognition.Entry
	graph   *hnsw.Graph[int]
	dim     int
}

// NewHNSWMatcher builds the graph over entries.
func NewHNSWMatcher(entries []recognition.Entry) *HNSWMatcher {
	m := &HNSWMatcher{entries: entries}
	if len(entries) == 0 {
		return m
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.CosineDistance

	m.dim = len(entries[0].Embedding)
	for i, e := range entries {
		if len(e.Embedding) != m.dim || m.dim == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(i, []float32(e.Embedding)))
	}

	m.graph = g
	return m
}

// Best returns the highest scoring candidate.
func (m *HNSWMatcher) Best(probe recognition.Embedding) Match {
	var best Match
	if m.graph == nil || m.graph.Len() == 0 || len(probe) != m.dim || isZero(probe) {
		return best
	}

	k := hnswCandidates
	if n := m.graph.Len(); n < k {
		k = n
	}

	nodes := m.graph.Search([]float32(probe), k)
	keys := make([]int, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	// gallery order decides ties, as in the linear scan
	sort.Ints(keys)

	for _, i := range keys {
		e := m.entries[i]
		consider(&best, e, recognition.CosineSimilarity(probe, e.Embedding))
	}
	return best
}

// Len returns the number of entries.
func (m *HNSWMatcher) Len() int {
	return len(m.entries)
}

func isZero(v recognition.Embedding) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
