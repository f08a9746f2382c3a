// Package annindex implements the ANN Graph: a hierarchical navigable
// small-world (HNSW) index over internal indices, storing (vector,
// InternalIndex) pairs under one of three distance metrics, with streaming
// insert and a soft-delete ("remove forgets an index from the caller-visible
// set only; edges to it remain until the next rebuild") deletion model —
// the chosen graph family has no true edge-removal operation.
package annindex

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Params are the collection-wide, immutable-after-creation graph parameters.
type Params struct {
	M              int // max bidirectional connections per node per layer
	EfConstruction int // candidate list size during insertion
	MaxLayer       int // upper bound on layer index
	MaxElements    int // capacity hint, not a hard limit
}

// DefaultParams returns the default graph parameters.
func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, MaxLayer: 16, MaxElements: 100000}
}

type node struct {
	idx       uint32
	vector    []float32
	quantized []int8
	level     int
	neighbors [][]uint32 // neighbors[layer] = list of InternalIndex
	removed   bool
}

// Graph is a hierarchical navigable small-world index. It is not
// safe for concurrent use; the Collection Engine's reader-writer lock
// serializes access to it.
type Graph struct {
	params    Params
	metric    Metric
	distFn    distanceFunc
	rng       *rand.Rand
	nodes     map[uint32]*node
	entry     uint32
	hasEntry  bool
	dim       int
	quantizer *scalarQuantizer
	liveCount int
}

// New constructs an empty graph for the given metric and parameters. seed
// drives the geometric level-assignment draw; callers that need a fresh
// graph to vary across runs pass time.Now().UnixNano(), tests pass a fixed
// value for reproducibility.
func New(metric Metric, params Params, seed int64) *Graph {
	if params.M <= 0 {
		params = DefaultParams()
	}
	return &Graph{
		params: params,
		metric: metric,
		distFn: distanceFor(metric),
		rng:    rand.New(rand.NewSource(seed)),
		nodes:  make(map[uint32]*node),
	}
}

// EnableQuantization attaches an internal scalar quantizer trained on
// samples, used only to accelerate candidate-list distance comparisons
// during the graph walk. It never changes the vectors or scores returned
// to callers.
func (g *Graph) EnableQuantization(samples [][]float32) {
	if g.dim == 0 && len(samples) > 0 {
		g.dim = len(samples[0])
	}
	q := newScalarQuantizer(g.dim)
	q.train(samples)
	g.quantizer = q
	for _, n := range g.nodes {
		n.quantized = q.encode(n.vector)
	}
}

// Size returns the number of nodes physically present in the graph,
// including any already forgotten by Remove (they are filtered out of
// search results but still occupy the structure until RebuildFrom).
func (g *Graph) Size() int { return len(g.nodes) }

// Len returns the number of nodes not yet removed.
func (g *Graph) Len() int { return g.liveCount }

func (g *Graph) selectLevel() int {
	level := 0
	for g.rng.Float64() < 1.0/float64(g.params.M) && level < g.params.MaxLayer {
		level++
	}
	return level
}

func (g *Graph) checkDim(vector []float32) error {
	if g.dim == 0 {
		return nil
	}
	if len(vector) != g.dim {
		return fmt.Errorf("annindex: dimension mismatch: graph is %d, got %d", g.dim, len(vector))
	}
	return nil
}

// Insert adds one (vector, idx) pair, drawing its top layer by geometric
// distribution and linking it to the closest M neighbors per layer found
// via a search using EfConstruction candidates. It returns only once the
// graph is consistent: all bidirectional links are in place before Insert
// returns.
func (g *Graph) Insert(idx uint32, vector []float32) error {
	if err := g.checkDim(vector); err != nil {
		return err
	}
	if g.dim == 0 {
		g.dim = len(vector)
	}
	vecCopy := append([]float32(nil), vector...)
	n := &node{idx: idx, vector: vecCopy, level: g.selectLevel()}
	n.neighbors = make([][]uint32, n.level+1)
	if g.quantizer != nil {
		n.quantized = g.quantizer.encode(vecCopy)
	}

	if prior, ok := g.nodes[idx]; ok {
		if !prior.removed {
			g.liveCount--
		}
	}
	g.nodes[idx] = n
	g.liveCount++

	if !g.hasEntry {
		g.entry = idx
		g.hasEntry = true
		return nil
	}

	entryNode := g.nodes[g.entry]
	curEntry := []uint32{entryNode.idx}

	// Descend from the current entry point's top layer down to one above
	// the new node's level, keeping only the single closest point at each
	// layer (greedy descent, no bidirectional links made above n.level).
	for layer := entryNode.level; layer > n.level; layer-- {
		curEntry = g.searchLayerClosest(vector, curEntry, layer)
	}

	// From n.level down to 0, search with EfConstruction candidates and
	// link bidirectionally, pruning over-connected neighbors back to the
	// layer's max degree.
	for layer := min(n.level, entryNode.level); layer >= 0; layer-- {
		candidates := g.searchLayer(vector, curEntry, g.params.EfConstruction, layer)
		maxM := g.params.M
		if layer == 0 {
			maxM = g.params.M * 2
		}
		neighbors := g.selectNeighborsHeuristic(vector, candidates, maxM)
		n.neighbors[layer] = neighbors
		for _, nbIdx := range neighbors {
			g.addConnection(nbIdx, idx, layer, maxM)
		}
		curEntry = candidates
	}

	// If the new node is taller than the current entry, or the graph had
	// no path above n.level because the entry point is shorter, it becomes
	// the new entry point.
	if n.level > entryNode.level {
		g.entry = idx
	}
	return nil
}

// Item is one (InternalIndex, vector) pair for BatchInsert/RebuildFrom.
type Item struct {
	Idx    uint32
	Vector []float32
}

// BatchInsert inserts many points. All validation (dimension equality)
// occurs up front, so the first invalid item fails the whole batch with no
// side effects. Only the per-item random level draw runs concurrently,
// under an errgroup; quantized-code encoding and linking are serialized,
// since each graph-mutating insert must observe every prior item's links
// to match a sequential insert in the same order.
func (g *Graph) BatchInsert(items []Item) error {
	if len(items) == 0 {
		return nil
	}
	dim := g.dim
	if dim == 0 {
		dim = len(items[0].Vector)
	}
	for _, it := range items {
		if len(it.Vector) != dim {
			return fmt.Errorf("annindex: dimension mismatch: batch expects %d, got %d", dim, len(it.Vector))
		}
	}
	g.dim = dim

	// Draw one seed per item up front, sequentially: math/rand.Rand is not
	// safe for concurrent use, so the shared rng is touched only from this
	// loop, never from inside a goroutine.
	seeds := make([]int64, len(items))
	for i := range items {
		seeds[i] = g.rng.Int63()
	}
	levels := make([]int, len(items))
	var grp errgroup.Group
	for i := range items {
		i := i
		grp.Go(func() error {
			levels[i] = levelFromSeed(seeds[i], g.params.M, g.params.MaxLayer)
			return nil
		})
	}
	_ = grp.Wait() // level draws never error; this is precomputation only

	for i, it := range items {
		if err := g.insertWithLevel(it.Idx, it.Vector, levels[i]); err != nil {
			return err
		}
	}
	return nil
}

// levelFromSeed draws a level from an independent rand source seeded by a
// value already drawn from the graph's rng, so goroutines never touch the
// shared (non-concurrency-safe) rng directly.
func levelFromSeed(seed int64, m, maxLayer int) int {
	src := rand.New(rand.NewSource(seed))
	level := 0
	for src.Float64() < 1.0/float64(m) && level < maxLayer {
		level++
	}
	return level
}

func (g *Graph) insertWithLevel(idx uint32, vector []float32, level int) error {
	vecCopy := append([]float32(nil), vector...)
	n := &node{idx: idx, vector: vecCopy, level: level}
	n.neighbors = make([][]uint32, level+1)
	if g.quantizer != nil {
		n.quantized = g.quantizer.encode(vecCopy)
	}
	if prior, ok := g.nodes[idx]; ok && !prior.removed {
		g.liveCount--
	}
	g.nodes[idx] = n
	g.liveCount++

	if !g.hasEntry {
		g.entry = idx
		g.hasEntry = true
		return nil
	}
	entryNode := g.nodes[g.entry]
	curEntry := []uint32{entryNode.idx}
	for layer := entryNode.level; layer > n.level; layer-- {
		curEntry = g.searchLayerClosest(vector, curEntry, layer)
	}
	for layer := min(n.level, entryNode.level); layer >= 0; layer-- {
		candidates := g.searchLayer(vector, curEntry, g.params.EfConstruction, layer)
		maxM := g.params.M
		if layer == 0 {
			maxM = g.params.M * 2
		}
		neighbors := g.selectNeighborsHeuristic(vector, candidates, maxM)
		n.neighbors[layer] = neighbors
		for _, nbIdx := range neighbors {
			g.addConnection(nbIdx, idx, layer, maxM)
		}
		curEntry = candidates
	}
	if n.level > entryNode.level {
		g.entry = idx
	}
	return nil
}

// Remove forgets idx from the caller-visible index set. Edges to it remain
// in the graph until the next RebuildFrom.
func (g *Graph) Remove(idx uint32) bool {
	n, ok := g.nodes[idx]
	if !ok || n.removed {
		return false
	}
	n.removed = true
	g.liveCount--
	if g.hasEntry && g.entry == idx {
		g.pickNewEntry()
	}
	return true
}

func (g *Graph) pickNewEntry() {
	for candIdx, n := range g.nodes {
		if !n.removed {
			g.entry = candIdx
			g.hasEntry = true
			return
		}
	}
	g.hasEntry = false
}

// RebuildFrom discards all graph state and re-inserts every live item in
// iteration order, the only way to reclaim nodes forgotten by Remove.
func (g *Graph) RebuildFrom(items []Item) error {
	g.nodes = make(map[uint32]*node)
	g.hasEntry = false
	g.liveCount = 0
	g.dim = 0
	for _, it := range items {
		if err := g.Insert(it.Idx, it.Vector); err != nil {
			return err
		}
	}
	return nil
}

// Result is one scored search hit.
type Result struct {
	Idx   uint32
	Score float64
}

// Search returns up to k candidates ordered by score descending (ties
// broken by smaller InternalIndex), using ef_search as the dynamic
// candidate-list size. Search on an empty graph returns an empty list
// without error.
func (g *Graph) Search(query []float32, k, efSearch int) ([]Result, error) {
	if err := g.checkDim(query); err != nil {
		return nil, err
	}
	if !g.hasEntry || k <= 0 {
		return nil, nil
	}
	if efSearch < k {
		efSearch = k
	}
	entryNode := g.nodes[g.entry]
	curEntry := []uint32{entryNode.idx}
	for layer := entryNode.level; layer > 0; layer-- {
		curEntry = g.searchLayerClosest(query, curEntry, layer)
	}
	candidates := g.searchLayer(query, curEntry, efSearch, 0)

	type scored struct {
		idx  uint32
		dist float32
	}
	live := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		n := g.nodes[c]
		if n == nil || n.removed {
			continue
		}
		live = append(live, scored{c, g.distFn(query, n.vector)})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].dist != live[j].dist {
			return live[i].dist < live[j].dist
		}
		return live[i].idx < live[j].idx
	})
	if len(live) > k {
		live = live[:k]
	}
	out := make([]Result, len(live))
	for i, s := range live {
		out[i] = Result{Idx: s.idx, Score: scoreFor(g.metric, s.dist)}
	}
	return out, nil
}

// searchLayerClosest descends greedily, keeping only the single closest
// point found at this layer (used above the target insertion/query level,
// where only a coarse entry point is needed).
func (g *Graph) searchLayerClosest(query []float32, entryPoints []uint32, layer int) []uint32 {
	best := entryPoints[0]
	bestDist := g.dist(query, best)
	improved := true
	visited := map[uint32]bool{best: true}
	for improved {
		improved = false
		n := g.nodes[best]
		if layer >= len(n.neighbors) {
			break
		}
		for _, nb := range n.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if d := g.dist(query, nb); d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return []uint32{best}
}

type heapItem struct {
	idx  uint32
	dist float32
}

// minHeap/maxHeap implement container/heap.Interface over the same slice
// type with the comparison direction flipped, matching the
// candidates-min-heap + dynamic-list-max-heap construction of the standard
// HNSW search algorithm.
type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap struct{ minHeap }

func (h maxHeap) Less(i, j int) bool { return h.minHeap[i].dist > h.minHeap[j].dist }

// searchLayer is the greedy layer search: a min-heap of candidates to
// explore and a max-heap (by distance) of the best ef found so far.
func (g *Graph) searchLayer(query []float32, entryPoints []uint32, ef, layer int) []uint32 {
	visited := make(map[uint32]bool, ef*2)
	candidates := &minHeap{}
	dynamic := &maxHeap{}
	heap.Init(candidates)
	heap.Init(dynamic)

	for _, ep := range entryPoints {
		d := g.dist(query, ep)
		heap.Push(candidates, heapItem{ep, d})
		heap.Push(dynamic, heapItem{ep, d})
		visited[ep] = true
	}

	for candidates.Len() > 0 {
		nearest := (*candidates)[0]
		var worst heapItem
		if dynamic.Len() > 0 {
			worst = dynamic.minHeap[0]
		}
		if dynamic.Len() >= ef && nearest.dist > worst.dist {
			break
		}
		heap.Pop(candidates)

		n := g.nodes[nearest.idx]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := g.dist(query, nb)
			if dynamic.Len() < ef {
				heap.Push(candidates, heapItem{nb, d})
				heap.Push(dynamic, heapItem{nb, d})
			} else if d < dynamic.minHeap[0].dist {
				heap.Push(candidates, heapItem{nb, d})
				heap.Push(dynamic, heapItem{nb, d})
				heap.Pop(dynamic)
			}
		}
	}

	out := make([]uint32, 0, dynamic.Len())
	for _, item := range dynamic.minHeap {
		out = append(out, item.idx)
	}
	return out
}

// selectNeighborsHeuristic keeps the m closest of candidates to query.
func (g *Graph) selectNeighborsHeuristic(query []float32, candidates []uint32, m int) []uint32 {
	type cd struct {
		idx  uint32
		dist float32
	}
	scored := make([]cd, len(candidates))
	for i, c := range candidates {
		scored[i] = cd{c, g.dist(query, c)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	if len(scored) > m {
		scored = scored[:m]
	}
	out := make([]uint32, len(scored))
	for i, s := range scored {
		out[i] = s.idx
	}
	return out
}

// addConnection links from -> to at layer, pruning from's neighbor list
// back down to maxM by keeping the closest if it overflows.
func (g *Graph) addConnection(from, to uint32, layer, maxM int) {
	n := g.nodes[from]
	if layer >= len(n.neighbors) {
		grown := make([][]uint32, layer+1)
		copy(grown, n.neighbors)
		n.neighbors = grown
	}
	for _, existing := range n.neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)
	if len(n.neighbors[layer]) > maxM {
		n.neighbors[layer] = g.selectNeighborsHeuristic(n.vector, n.neighbors[layer], maxM)
	}
}

// dist computes the distance used for graph-internal ranking: the quantized
// approximation when a quantizer is attached (candidate exploration only),
// full precision otherwise. Search's final top-k scores are always
// recomputed against full-precision vectors separately, so attaching a
// quantizer changes candidate-list traffic, never a returned score.
func (g *Graph) dist(query []float32, idx uint32) float32 {
	n := g.nodes[idx]
	if g.quantizer != nil && n.quantized != nil {
		return g.quantizer.approxDistance(g.metric, g.quantizer.encode(query), n.quantized)
	}
	return g.distFn(query, n.vector)
}
