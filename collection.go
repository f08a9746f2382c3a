package vkernel

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vectorshelf/vkernel/internal/annindex"
	"github.com/vectorshelf/vkernel/internal/encoding"
	"github.com/vectorshelf/vkernel/internal/filter"
	"github.com/vectorshelf/vkernel/internal/idmap"
	"github.com/vectorshelf/vkernel/internal/persist"
	"github.com/vectorshelf/vkernel/internal/vstore"
)

type compiledFilter = filter.Compiled

func compileFilter(expr Filter) *compiledFilter { return filter.Compile(expr) }

// Collection composes the Identifier Map, Vector Store, ANN Graph, Filter
// Evaluator and Persistence Layer behind a single-writer/many-reader
// contract. Query/Stats/Save take the shared (read) side of mu;
// Upsert/BatchUpsert/Delete/Optimize/Restore take the exclusive (write)
// side.
type Collection struct {
	mu sync.RWMutex

	// saveMu serializes concurrent Save calls with each other: Save runs
	// under the shared side of mu so queries keep flowing, but two savers
	// at once would race on the generation counter and the staging dir.
	saveMu sync.Mutex

	dir         string
	dimension   int
	metric      Metric
	graphParams GraphParams
	cacheSize   int
	seed        int64
	generation  atomic.Int64
	logger      Logger

	ids     *idmap.Map
	vectors *vstore.Store
	graph   *annindex.Graph
}

func metricDial(name string) (annindex.Metric, bool) { return annindex.ParseMetric(name) }

// Open loads the collection rooted at path if it already holds a valid
// manifest, or creates one otherwise. WithDimension and WithMetric gate
// compatibility with an existing directory (a mismatch is a fatal
// Configuration error). When creating a new collection WithDimension is
// required (dimension > 0), and WithMetric defaults to Cosine if omitted;
// the manifest records both at creation time.
func Open(path string, opts ...Option) (*Collection, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasSeed {
		o.seed = time.Now().UnixNano()
	}

	if persist.Exists(path) {
		return openExisting(path, o)
	}
	return createNew(path, o)
}

func openExisting(path string, o openOptions) (*Collection, error) {
	loaded, err := persist.Load(path, metricDial, o.cacheSize, o.seed)
	if err != nil {
		return nil, wrap("Open", KindIO, err)
	}
	if o.dimension != 0 && o.dimension != loaded.Manifest.Dimension {
		return nil, wrap("Open", KindConfiguration, fmt.Errorf("%w: manifest has %d, expected %d",
			ErrDimensionMismatch, loaded.Manifest.Dimension, o.dimension))
	}
	if o.metric != "" && o.metric != Metric(loaded.Manifest.Metric) {
		return nil, wrap("Open", KindConfiguration, fmt.Errorf("%w: manifest has %q, expected %q",
			ErrMetricMismatch, loaded.Manifest.Metric, o.metric))
	}

	c := &Collection{
		dir:       path,
		dimension: loaded.Manifest.Dimension,
		metric:    Metric(loaded.Manifest.Metric),
		graphParams: GraphParams{
			M:              loaded.Manifest.GraphParams.M,
			EfConstruction: loaded.Manifest.GraphParams.EfConstruction,
			MaxLayer:       loaded.Manifest.GraphParams.MaxLayer,
			MaxElements:    loaded.Manifest.GraphParams.MaxElements,
		},
		cacheSize: o.cacheSize,
		seed:      o.seed,
		logger:    o.logger,
		ids:       loaded.IDs,
		vectors:   loaded.Vectors,
		graph:     loaded.Graph,
	}
	c.generation.Store(int64(loaded.Manifest.Generation))
	if loaded.GraphRebuilt {
		c.logger.Warn("graph cache missing or corrupt, rebuilt from vector store", "dir", path)
		if err := c.rebuildGraphLocked(); err != nil {
			return nil, wrap("Open", KindIO, err)
		}
	}
	c.logger.Info("collection opened", "dir", path, "count", c.ids.Len(), "dimension", c.dimension, "metric", c.metric)
	return c, nil
}

func createNew(path string, o openOptions) (*Collection, error) {
	if o.dimension <= 0 {
		return nil, wrap("Open", KindConfiguration, fmt.Errorf("%w: dimension must be > 0 to create a new collection", ErrDimensionMismatch))
	}
	if o.metric == "" {
		o.metric = Cosine
	}
	if !o.metric.valid() {
		return nil, wrap("Open", KindConfiguration, fmt.Errorf("%w: %q", ErrMetricMismatch, o.metric))
	}
	if !o.graphParams.valid() {
		return nil, wrap("Open", KindConfiguration, ErrInvalidGraphParams)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("Open", KindIO, err)
	}

	c := &Collection{
		dir:         path,
		dimension:   o.dimension,
		metric:      o.metric,
		graphParams: o.graphParams,
		cacheSize:   o.cacheSize,
		seed:        o.seed,
		logger:      o.logger,
		ids:         idmap.New(),
		vectors:     vstore.New(o.dimension, o.cacheSize),
		graph:       annindex.New(o.metric.internal(), o.graphParams.internal(), o.seed),
	}
	if err := c.saveLocked(); err != nil {
		return nil, wrap("Open", KindIO, err)
	}
	c.logger.Info("collection created", "dir", path, "dimension", c.dimension, "metric", c.metric)
	return c, nil
}

// Dimension reports the fixed vector width.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Metric reports the distance metric.
func (c *Collection) Metric() Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metric
}

// Len reports the number of live identifiers.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ids.Len()
}

// Stats returns counts, dimension, metric and graph parameters.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Count:       c.ids.Len(),
		Dimension:   c.dimension,
		Metric:      c.metric,
		GraphParams: c.graphParams,
		Generation:  int(c.generation.Load()),
	}
}

func (c *Collection) validateVector(vector []float32) error {
	if len(vector) != c.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimension, len(vector))
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return fmt.Errorf("%w: values must be finite", ErrInvalidVector)
	}
	return nil
}

func (c *Collection) validateID(id string) error {
	if len(id) == 0 {
		return ErrEmptyIdentifier
	}
	if len(id) > 1024 {
		return ErrIdentifierTooLong
	}
	return nil
}

// Upsert validates dimension, retires any previous InternalIndex held by
// id, allocates a fresh one, appends to the Vector Store, and inserts into
// the Graph. Observable atomically per call: a validation failure leaves
// the Collection untouched.
func (c *Collection) Upsert(id string, vector []float32, metadata map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validateID(id); err != nil {
		return wrap("Upsert", KindValidation, err)
	}
	if err := c.validateVector(vector); err != nil {
		return wrap("Upsert", KindValidation, err)
	}
	idx, err := c.vectors.Append(vector, metadata)
	if err != nil {
		return wrap("Upsert", KindValidation, err)
	}
	// idmap's allocator and the vector store's row count are both
	// append-only and mutated only here, under the exclusive lock, so
	// AssignNew's fresh index always equals the row Append just produced.
	c.ids.AssignNew(id)
	if err := c.graph.Insert(idx, vector); err != nil {
		return wrap("Upsert", KindValidation, err)
	}
	return nil
}

// BatchUpsert applies the same semantics as Upsert to many items. All
// dimension validation happens up front; the first invalid item fails the
// whole batch without any side effects.
func (c *Collection) BatchUpsert(items []UpsertItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// All validation, including metadata encoding, happens before the first
	// mutation so a bad item anywhere in the batch leaves no side effects.
	rawMeta := make([][]byte, len(items))
	for i, it := range items {
		if err := c.validateID(it.ID); err != nil {
			return wrap("BatchUpsert", KindValidation, err)
		}
		if err := c.validateVector(it.Vector); err != nil {
			return wrap("BatchUpsert", KindValidation, err)
		}
		raw, err := vstore.EncodeMetadataBytes(it.Metadata)
		if err != nil {
			return wrap("BatchUpsert", KindValidation, fmt.Errorf("%w: %v", ErrInvalidMetadata, err))
		}
		rawMeta[i] = raw
	}

	graphItems := make([]annindex.Item, 0, len(items))
	for i, it := range items {
		idx := c.vectors.AppendRaw(append([]float32(nil), it.Vector...), rawMeta[i])
		c.ids.AssignNew(it.ID)
		graphItems = append(graphItems, annindex.Item{Idx: idx, Vector: it.Vector})
	}
	if err := c.graph.BatchInsert(graphItems); err != nil {
		return wrap("BatchUpsert", KindValidation, err)
	}
	return nil
}

// Delete retires id's InternalIndex and removes it from the Identifier Map.
// The underlying Vector Store row becomes unreachable and is physically
// removed on the next Optimize. Deleting an unknown id is a Not-found
// outcome, not a fatal error.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.ids.Retire(id)
	if !ok {
		return wrap("Delete", KindNotFound, ErrNotFound)
	}
	c.graph.Remove(idx)
	return nil
}

// Query runs the ANN graph, applies the filter evaluator over surviving
// candidates' metadata if a filter is set, and truncates to k. Retired
// indices reached by the graph walk are skipped silently. When a filter is
// present the engine overfetches: starting at max(k*4, 200) candidates and
// doubling, up to 10000, until k survive or the ceiling is hit.
func (c *Collection) Query(q Query) ([]Neighbor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q.K <= 0 {
		return nil, nil
	}
	if err := c.validateVector(q.Vector); err != nil {
		return nil, wrap("Query", KindValidation, err)
	}
	efSearch := q.EfSearch
	if efSearch <= 0 {
		efSearch = defaultEfSearchFloor
	}
	if efSearch < q.K {
		efSearch = q.K
	}

	var compiled *compiledFilter
	if q.Filter != nil {
		compiled = compileFilter(q.Filter)
	}

	fetch := q.K
	if compiled != nil {
		fetch = q.K * defaultOverfetch
		if fetch < defaultEfSearchFloor {
			fetch = defaultEfSearchFloor
		}
	}

	for {
		results, err := c.graph.Search(q.Vector, fetch, efSearch)
		if err != nil {
			return nil, wrap("Query", KindValidation, err)
		}
		out := c.resolveResults(results, q, compiled)
		if len(out) >= q.K || compiled == nil || fetch >= maxOverfetchCeiling {
			if len(out) > q.K {
				out = out[:q.K]
			}
			return out, nil
		}
		fetch *= 2
		if fetch > maxOverfetchCeiling {
			fetch = maxOverfetchCeiling
		}
		efSearch = fetch
	}
}

// resolveResults walks the graph's ranked candidates, skips retired
// indices via the identifier map, applies the filter if present, and stops
// once k survivors are collected (scores arrive already sorted
// descending, so this early exit preserves order).
func (c *Collection) resolveResults(results []annindex.Result, q Query, compiled *compiledFilter) []Neighbor {
	out := make([]Neighbor, 0, q.K)
	for _, r := range results {
		id, ok := c.ids.Reverse(r.Idx)
		if !ok {
			continue
		}
		vector, metadata, ok := c.vectors.Get(r.Idx)
		if !ok {
			continue
		}
		if compiled != nil && !compiled.Eval(metadata) {
			continue
		}
		n := Neighbor{ID: id, Score: r.Score, Metadata: metadata}
		if q.IncludeVectors {
			n.Vector = append([]float32(nil), vector...)
		}
		out = append(out, n)
		if len(out) == q.K {
			break
		}
	}
	return out
}

// Optimize rebuilds the Graph from live entries, compacts the Vector Store
// (dropping tombstoned rows), and resets the InternalIndex allocator. No
// queries or writes may be in progress — the method holds the exclusive
// lock for its whole duration.
func (c *Collection) Optimize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	newVectors := vstore.New(c.dimension, c.cacheSize)
	newIDs := idmap.New()
	var items []annindex.Item

	c.ids.Range(func(id string, idx uint32) bool {
		vector, metadata, ok := c.vectors.Get(idx)
		if !ok {
			return true
		}
		newIdx, err := newVectors.Append(vector, metadata)
		if err != nil {
			return true
		}
		newIDs.AssignNew(id)
		items = append(items, annindex.Item{Idx: newIdx, Vector: vector})
		return true
	})

	newGraph := annindex.New(c.metric.internal(), c.graphParams.internal(), c.seed)
	if err := newGraph.RebuildFrom(items); err != nil {
		return wrap("Optimize", KindIO, err)
	}

	c.vectors = newVectors
	c.ids = newIDs
	c.graph = newGraph
	c.logger.Info("optimize complete", "live", c.ids.Len())
	return nil
}

func (c *Collection) rebuildGraphLocked() error {
	var items []annindex.Item
	c.ids.Range(func(id string, idx uint32) bool {
		vector, _, ok := c.vectors.Get(idx)
		if ok {
			items = append(items, annindex.Item{Idx: idx, Vector: vector})
		}
		return true
	})
	return c.graph.RebuildFrom(items)
}

// Save persists current state to the collection's own directory.
func (c *Collection) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.saveLocked()
}

// SaveTo persists current state to a different directory, leaving the
// Collection's own directory untouched.
func (c *Collection) SaveTo(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return wrap("SaveTo", KindIO, c.writeTo(path, int(c.generation.Load())))
}

func (c *Collection) saveLocked() error {
	gen := c.generation.Load() + 1
	if err := c.writeTo(c.dir, int(gen)); err != nil {
		return wrap("Save", KindIO, err)
	}
	c.generation.Store(gen)
	c.logger.Debug("save complete", "generation", gen, "dir", c.dir)
	return nil
}

func (c *Collection) writeTo(dir string, generation int) error {
	manifest := persist.Manifest{
		FormatVersion: persist.FormatVersion,
		Dimension:     c.dimension,
		Metric:        string(c.metric),
		GraphParams: persist.GraphParams{
			M:              c.graphParams.M,
			EfConstruction: c.graphParams.EfConstruction,
			MaxLayer:       c.graphParams.MaxLayer,
			MaxElements:    c.graphParams.MaxElements,
		},
		Generation: generation,
	}
	return persist.Save(dir, manifest, c.ids, c.vectors, c.graph)
}
