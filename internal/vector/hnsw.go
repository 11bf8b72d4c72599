package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Graph parameters.
const (
	HNSWM              = 16
	HNSWMMax           = HNSWM
	HNSWMMax0          = 2 * HNSWM
	HNSWEfConstruction = 200
	// DefaultEfSearch is the query-side frontier size.
	DefaultEfSearch = 50

	levelCap = 16
)

var levelFactor = 1 / math.Log(float64(HNSWM))

type hnswNode struct {
	id        string
	vector    []float32
	norm      float64
	level     int
	neighbors [][]int
	deleted   bool
}

// HNSWIndex is a hierarchical navigable small-world graph over cosine distance.
// Deleted entries stay in the graph as tombstones: they still route traversal
// but never appear in results or as new neighbors.
type HNSWIndex struct {
	mu         sync.RWMutex
	dimensions int
	seed       int64
	rng        *rand.Rand
	nodes      []*hnswNode
	byID       map[string]int
	entry      int
	maxLevel   int
	deleted    int
}

// HNSWOption configures an HNSWIndex.
type HNSWOption func(*HNSWIndex)

// WithSeed sets the level-assignment random seed.
func WithSeed(seed int64) HNSWOption {
	return func(h *HNSWIndex) {
		h.seed = seed
	}
}

// NewHNSWIndex creates an empty graph for vectors of the given dimension.
func NewHNSWIndex(dimensions int, opts ...HNSWOption) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	h := &HNSWIndex{
		dimensions: dimensions,
		seed:       42,
		byID:       make(map[string]int),
		entry:      -1,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rng = rand.New(rand.NewSource(h.seed))
	return h, nil
}

// Type returns IndexTypeHNSW.
func (h *HNSWIndex) Type() IndexType { return IndexTypeHNSW }

// Dimensions returns the vector width.
func (h *HNSWIndex) Dimensions() int { return h.dimensions }

// Len counts live nodes.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - h.deleted
}

// IsEmpty reports whether no live nodes remain.
func (h *HNSWIndex) IsEmpty() bool { return h.Len() == 0 }

// Tombstones counts deleted nodes still held in the graph.
func (h *HNSWIndex) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deleted
}

// Contains reports whether id has a live node.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byID[id]
	return ok
}

// Vector returns a copy of the live vector for id.
func (h *HNSWIndex) Vector(id string) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, h.dimensions)
	copy(out, h.nodes[i].vector)
	return out, true
}

// Delete tombstones the node for id.
func (h *HNSWIndex) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleteLocked(id)
}

func (h *HNSWIndex) deleteLocked(id string) bool {
	i, ok := h.byID[id]
	if !ok {
		return false
	}
	h.nodes[i].deleted = true
	h.deleted++
	delete(h.byID, id)
	return true
}

func (h *HNSWIndex) randomLevel() int {
	// 1-Float64 is in (0, 1], so the log is finite
	r := 1 - h.rng.Float64()
	level := int(math.Floor(-math.Log(r) * levelFactor))
	if level > levelCap {
		level = levelCap
	}
	return level
}

// Insert adds vec under id. A prior live node for id is tombstoned first.
func (h *HNSWIndex) Insert(id string, vec []float32) error {
	if err := checkDim(len(vec), h.dimensions); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleteLocked(id)
	h.insertLocked(id, vec)
	return nil
}

func (h *HNSWIndex) insertLocked(id string, vec []float32) {
	v := make([]float32, len(vec))
	copy(v, vec)
	level := h.randomLevel()
	n := &hnswNode{
		id:        id,
		vector:    v,
		norm:      L2Norm(v),
		level:     level,
		neighbors: make([][]int, level+1),
	}
	idx := len(h.nodes)
	h.nodes = append(h.nodes, n)
	h.byID[id] = idx

	// with no live nodes left there is nothing to link to; start a fresh top
	if h.entry < 0 || len(h.nodes)-1-h.deleted == 0 {
		h.entry = idx
		h.maxLevel = level
		return
	}

	ep := h.entry
	for lc := h.maxLevel; lc > level; lc-- {
		ep = h.greedyClosest(v, n.norm, ep, lc)
	}

	for lc := min(level, h.maxLevel); lc >= 0; lc-- {
		mMax := HNSWMMax
		if lc == 0 {
			mMax = HNSWMMax0
		}
		found := h.searchLayer(v, n.norm, ep, HNSWEfConstruction, lc, idx)
		selected := selectNeighbors(found, mMax)
		n.neighbors[lc] = selected

		for _, nb := range selected {
			other := h.nodes[nb]
			if lc > other.level {
				continue
			}
			other.neighbors[lc] = append(other.neighbors[lc], idx)
			if len(other.neighbors[lc]) > mMax {
				other.neighbors[lc] = h.prune(other, other.neighbors[lc], mMax)
			}
		}
		if len(found) > 0 {
			ep = found[0].idx
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
}

// prune keeps the mMax closest live neighbors of n.
func (h *HNSWIndex) prune(n *hnswNode, links []int, mMax int) []int {
	cands := make([]candidate, 0, len(links))
	for _, l := range links {
		o := h.nodes[l]
		if o.deleted {
			continue
		}
		cands = append(cands, candidate{idx: l, dist: 1 - cosine(n.vector, n.norm, o.vector, o.norm)})
	}
	sortCandidates(cands)
	return selectNeighbors(cands, mMax)
}

func (h *HNSWIndex) distance(q []float32, qNorm float64, i int) float64 {
	o := h.nodes[i]
	return 1 - cosine(q, qNorm, o.vector, o.norm)
}

// greedyClosest walks layer lc from ep toward q and returns the local minimum.
func (h *HNSWIndex) greedyClosest(q []float32, qNorm float64, ep, lc int) int {
	cur := ep
	curDist := h.distance(q, qNorm, cur)
	for {
		changed := false
		if lc < len(h.nodes[cur].neighbors) {
			for _, nb := range h.nodes[cur].neighbors[lc] {
				d := h.distance(q, qNorm, nb)
				if less(d, nb, curDist, cur) {
					cur, curDist = nb, d
					changed = true
				}
			}
		}
		if !changed {
			return cur
		}
	}
}

// searchLayer returns up to ef live nodes on layer lc closest to q, sorted
// ascending by distance then insertion order. skip is excluded (the node being inserted).
func (h *HNSWIndex) searchLayer(q []float32, qNorm float64, ep, ef, lc, skip int) []candidate {
	visited := map[int]struct{}{ep: {}}
	if skip >= 0 {
		visited[skip] = struct{}{}
	}
	d := h.distance(q, qNorm, ep)
	frontier := &nearHeap{{idx: ep, dist: d}}
	results := &farHeap{}
	if !h.nodes[ep].deleted {
		heap.Push(results, candidate{idx: ep, dist: d})
	}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && !less(c.dist, c.idx, (*results)[0].dist, (*results)[0].idx) {
			break
		}
		node := h.nodes[c.idx]
		if lc >= len(node.neighbors) {
			continue
		}
		for _, nb := range node.neighbors[lc] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			d := h.distance(q, qNorm, nb)
			if results.Len() < ef || less(d, nb, (*results)[0].dist, (*results)[0].idx) {
				heap.Push(frontier, candidate{idx: nb, dist: d})
				if h.nodes[nb].deleted {
					continue
				}
				heap.Push(results, candidate{idx: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sortCandidates(out)
	return out
}

// Search returns up to k live nodes by descending cosine similarity.
// ef is raised to k when smaller.
func (h *HNSWIndex) Search(query []float32, k, ef int) ([]*VectorResult, error) {
	if err := checkDim(len(query), h.dimensions); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.entry < 0 || len(h.nodes)-h.deleted == 0 {
		return []*VectorResult{}, nil
	}
	if ef < k {
		ef = k
	}
	qNorm := L2Norm(query)
	ep := h.entry
	for lc := h.maxLevel; lc > 0; lc-- {
		ep = h.greedyClosest(query, qNorm, ep, lc)
	}
	found := h.searchLayer(query, qNorm, ep, ef, 0, -1)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]*VectorResult, len(found))
	for i, c := range found {
		out[i] = &VectorResult{ID: h.nodes[c.idx].id, Score: 1 - c.dist}
	}
	return out, nil
}

// Compact rebuilds the graph from live nodes in insertion order, dropping tombstones.
func (h *HNSWIndex) Compact() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted == 0 {
		return nil
	}
	old := h.nodes
	h.nodes = make([]*hnswNode, 0, len(old)-h.deleted)
	h.byID = make(map[string]int, len(old)-h.deleted)
	h.entry = -1
	h.maxLevel = 0
	h.deleted = 0
	h.rng = rand.New(rand.NewSource(h.seed))
	for _, n := range old {
		if !n.deleted {
			h.insertLocked(n.id, n.vector)
		}
	}
	return nil
}

type candidate struct {
	idx  int
	dist float64
}

// less orders by distance, then by insertion sequence.
func less(d1 float64, i1 int, d2 float64, i2 int) bool {
	if d1 != d2 {
		return d1 < d2
	}
	return i1 < i2
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(a, b int) bool { return less(c[a].dist, c[a].idx, c[b].dist, c[b].idx) })
}

// selectNeighbors takes the first m of candidates sorted ascending.
func selectNeighbors(sorted []candidate, m int) []int {
	if len(sorted) > m {
		sorted = sorted[:m]
	}
	out := make([]int, len(sorted))
	for i, c := range sorted {
		out[i] = c.idx
	}
	return out
}

// nearHeap pops the closest candidate first.
type nearHeap []candidate

func (h nearHeap) Len() int           { return len(h) }
func (h nearHeap) Less(i, j int) bool { return less(h[i].dist, h[i].idx, h[j].dist, h[j].idx) }
func (h nearHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nearHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *nearHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// farHeap keeps the farthest candidate at the root.
type farHeap []candidate

func (h farHeap) Len() int           { return len(h) }
func (h farHeap) Less(i, j int) bool { return less(h[j].dist, h[j].idx, h[i].dist, h[i].idx) }
func (h farHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *farHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *farHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
