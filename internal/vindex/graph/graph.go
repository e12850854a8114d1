// Package graph implements the default "graph" vector-index builder
// (SPEC_FULL.md §4.5a): a small navigable-neighbor graph whose edges are
// computed exactly (brute force) at seal time, then traversed
// approximately (greedy best-first, bounded frontier) at query time. The
// bounded-frontier traversal is this repository's Go expression of the
// same idea as a k-smallest-heap scan — grounded on
// SnellerInc-sneller/sorting.Ktop's index-indirection-over-a-heap pattern,
// adapted here to rank graph neighbors instead of Ion records.
package graph

import (
	"container/heap"
	"sort"

	"github.com/goccy/go-json"

	"github.com/nilotpal/vortexdb/internal/schema"
	"github.com/nilotpal/vortexdb/internal/vindex"
	"github.com/nilotpal/vortexdb/pkg/errors"
)

const (
	defaultM  = 16 // neighbors retained per node
	defaultEf = 64 // default search frontier width
)

// Builder is the graph.Adapter implementation for one index column.
type Builder struct {
	spec    *schema.IndexColumnSpec
	m       int
	docIDs  []uint32
	vectors [][]float32

	adjacency [][]uint32 // adjacency[i] holds neighbor indices into docIDs/vectors, for node i
	sealed    bool
}

func init() {
	vindex.Register(schema.IndexKindGraph,
		func(spec *schema.IndexColumnSpec) vindex.Adapter { return New(spec) },
		Load,
	)
}

// New constructs an unsealed Builder for spec, reading the "M" builder
// param if present (default 16).
func New(spec *schema.IndexColumnSpec) *Builder {
	m := defaultM
	if raw, ok := spec.BuilderParams["M"]; ok {
		if f, ok := toFloat(raw); ok && f > 0 {
			m = int(f)
		}
	}
	return &Builder{spec: spec, m: m}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Add appends doc's already-decoded vector to the training set.
func (b *Builder) Add(doc uint32, vec []float32) error {
	if b.sealed {
		return errors.NewIndexError(nil, errors.ErrorCodeInternal, "add called after seal").
			WithColumn(b.spec.Name).WithOperation("add")
	}
	if len(vec) != b.spec.Dimension {
		return errors.NewInvalidVectorError(b.spec.Name, b.spec.Dimension, len(vec))
	}
	b.docIDs = append(b.docIDs, doc)
	b.vectors = append(b.vectors, vec)
	return nil
}

// Seal computes, for every node, its exact M nearest neighbors among the
// full sealed set — brute force here is a one-time build cost, not a
// query-time fallback (SPEC_FULL.md §4.5a).
func (b *Builder) Seal() error {
	if b.sealed {
		return nil
	}
	n := len(b.vectors)
	b.adjacency = make([][]uint32, n)

	type scored struct {
		idx   int
		score float32
	}
	for i := 0; i < n; i++ {
		candidates := make([]scored, 0, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			candidates = append(candidates, scored{idx: j, score: vindex.Score(b.spec.Metric, b.vectors[i], b.vectors[j])})
		}
		sort.Slice(candidates, func(a, c int) bool { return candidates[a].score < candidates[c].score })

		limit := b.m
		if limit > len(candidates) {
			limit = len(candidates)
		}
		neighbors := make([]uint32, limit)
		for k := 0; k < limit; k++ {
			neighbors[k] = uint32(candidates[k].idx)
		}
		b.adjacency[i] = neighbors
	}

	b.sealed = true
	return nil
}

// wireFormat is the JSON-encoded blob Serialize/Load exchange.
type wireFormat struct {
	DocIDs    []uint32   `json:"docIds"`
	Vectors   [][]float32 `json:"vectors"`
	Adjacency [][]uint32 `json:"adjacency"`
	M         int        `json:"m"`
}

// Serialize encodes the sealed graph as goccy/go-json, matching how this
// repository's manifest and segment metadata are encoded (SPEC_FULL.md §6).
func (b *Builder) Serialize() ([]byte, error) {
	if !b.sealed {
		return nil, errors.NewIndexError(nil, errors.ErrorCodeInternal, "serialize called before seal").
			WithColumn(b.spec.Name).WithOperation("serialize")
	}
	wf := wireFormat{DocIDs: b.docIDs, Vectors: b.vectors, Adjacency: b.adjacency, M: b.m}
	blob, err := json.Marshal(&wf)
	if err != nil {
		return nil, errors.NewIndexError(err, errors.ErrorCodeInternal, "marshal graph index").
			WithColumn(b.spec.Name).WithOperation("serialize")
	}
	return blob, nil
}

// Load restores a Builder from a Serialize-d blob. useMmap is accepted for
// interface symmetry with spec §4.5's load(reader, options); this builder's
// state is small enough to always live on the heap regardless of residency
// preference.
func Load(blob []byte, spec *schema.IndexColumnSpec, useMmap bool) (vindex.Adapter, error) {
	var wf wireFormat
	if err := json.Unmarshal(blob, &wf); err != nil {
		return nil, errors.NewIndexCorruptionError(spec.Name, "load", err)
	}
	return &Builder{
		spec:      spec,
		m:         wf.M,
		docIDs:    wf.DocIDs,
		vectors:   wf.Vectors,
		adjacency: wf.Adjacency,
		sealed:    true,
	}, nil
}

// maxHeap is a bounded max-heap of the best ef visited candidates with the
// worst of them at the root, used to cap exploration at ef entries (container/heap: no pack library
// offers a priority queue, and Sneller's sorting.Ktop is built on one too).
type frontierItem struct {
	idx   int
	score float32
}
type maxHeap []frontierItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score > h[j].score } // max at root
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)         { *h = append(*h, x.(frontierItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search performs greedy best-first traversal from a fixed entry point
// (node 0) with a bounded candidate frontier sized by params["ef"]
// (default 64), per SPEC_FULL.md §4.5a.
func (b *Builder) Search(query []float32, topK int, params map[string]any) ([]vindex.Candidate, error) {
	if !b.sealed {
		return nil, errors.NewIndexError(nil, errors.ErrorCodeInternal, "search against unsealed index").
			WithColumn(b.spec.Name).WithOperation("search")
	}
	if topK <= 0 || len(b.vectors) == 0 {
		return nil, nil
	}

	ef := defaultEf
	if raw, ok := params["ef"]; ok {
		if f, ok := toFloat(raw); ok && f > 0 {
			ef = int(f)
		}
	}
	if ef < topK {
		ef = topK
	}

	visited := make(map[int]bool, ef*2)
	best := &maxHeap{} // bounded to ef entries, worst at root
	heap.Init(best)

	entry := 0
	entryScore := vindex.Score(b.spec.Metric, query, b.vectors[entry])
	visited[entry] = true
	heap.Push(best, frontierItem{idx: entry, score: entryScore})

	// candidates to expand, ordered best-first (min-heap via negated score
	// trick would duplicate maxHeap; a simple slice + sort is adequate
	// since ef is small and this runs once per step).
	toExplore := []frontierItem{{idx: entry, score: entryScore}}

	for len(toExplore) > 0 {
		sort.Slice(toExplore, func(i, j int) bool { return toExplore[i].score < toExplore[j].score })
		current := toExplore[0]
		toExplore = toExplore[1:]

		worst := float32(0)
		if best.Len() >= ef {
			worst = (*best)[0].score
			if current.score > worst {
				continue // current is worse than everything already kept; stop expanding this branch
			}
		}

		for _, nb := range b.adjacency[current.idx] {
			nIdx := int(nb)
			if visited[nIdx] {
				continue
			}
			visited[nIdx] = true
			score := vindex.Score(b.spec.Metric, query, b.vectors[nIdx])

			if best.Len() < ef {
				heap.Push(best, frontierItem{idx: nIdx, score: score})
				toExplore = append(toExplore, frontierItem{idx: nIdx, score: score})
			} else if score < (*best)[0].score {
				heap.Pop(best)
				heap.Push(best, frontierItem{idx: nIdx, score: score})
				toExplore = append(toExplore, frontierItem{idx: nIdx, score: score})
			}
		}
	}

	results := make([]frontierItem, best.Len())
	copy(results, *best)
	sort.Slice(results, func(i, j int) bool { return results[i].score < results[j].score })

	if topK > len(results) {
		topK = len(results)
	}
	out := make([]vindex.Candidate, topK)
	for i := 0; i < topK; i++ {
		out[i] = vindex.Candidate{DocID: b.docIDs[results[i].idx], Score: results[i].score}
	}
	return out, nil
}
