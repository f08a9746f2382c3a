package vkernel

import "github.com/vectorshelf/vkernel/internal/annindex"

// Metric identifies the distance function a Collection was created with.
// It is fixed for the Collection's lifetime once written to the manifest.
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
	Dot       Metric = "dot"
)

func (m Metric) valid() bool {
	switch m {
	case Cosine, Euclidean, Dot:
		return true
	default:
		return false
	}
}

func (m Metric) internal() annindex.Metric {
	switch m {
	case Euclidean:
		return annindex.Euclidean
	case Dot:
		return annindex.Dot
	default:
		return annindex.Cosine
	}
}

// GraphParams are the collection-wide, immutable-after-creation ANN graph
// parameters. They only take effect when a Collection is
// created; reopening an existing one always uses the parameters already
// recorded in its manifest.
type GraphParams struct {
	M              int
	EfConstruction int
	MaxLayer       int
	MaxElements    int
}

// DefaultGraphParams returns the defaults: M=16, ef_construction=200,
// max_layer=16, max_elements=100000.
func DefaultGraphParams() GraphParams {
	d := annindex.DefaultParams()
	return GraphParams{M: d.M, EfConstruction: d.EfConstruction, MaxLayer: d.MaxLayer, MaxElements: d.MaxElements}
}

func (p GraphParams) internal() annindex.Params {
	return annindex.Params{M: p.M, EfConstruction: p.EfConstruction, MaxLayer: p.MaxLayer, MaxElements: p.MaxElements}
}

func (p GraphParams) valid() bool {
	return p.M > 0 && p.EfConstruction > 0 && p.MaxLayer > 0 && p.MaxElements > 0
}

// openOptions accumulates Open's functional options. Dimension and metric
// live here as optional fields because they only gate compatibility with an
// on-disk collection; they do not themselves create one without an explicit
// value.
type openOptions struct {
	dimension   int
	metric      Metric
	graphParams GraphParams
	logger      Logger
	cacheSize   int
	seed        int64
	hasSeed     bool
}

func defaultOpenOptions() openOptions {
	return openOptions{
		graphParams: DefaultGraphParams(),
		logger:      NopLogger(),
		cacheSize:   4096,
	}
}

// Option configures Open.
type Option func(*openOptions)

// WithDimension supplies the expected vector dimension. For a new
// collection it is required. For an existing one it is validated against
// the stored manifest; a mismatch is a fatal Configuration error.
func WithDimension(dim int) Option {
	return func(o *openOptions) { o.dimension = dim }
}

// WithMetric supplies the expected distance metric, validated the same way
// as WithDimension.
func WithMetric(m Metric) Option {
	return func(o *openOptions) { o.metric = m }
}

// WithGraphParams supplies graph construction parameters for a new
// collection. Ignored when opening an existing one.
func WithGraphParams(p GraphParams) Option {
	return func(o *openOptions) { o.graphParams = p }
}

// WithLogger attaches a Logger. The default is a no-op logger.
func WithLogger(l Logger) Option {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCacheSize bounds the vector store's decoded-metadata LRU cache. 0
// disables caching entirely.
func WithCacheSize(n int) Option {
	return func(o *openOptions) { o.cacheSize = n }
}

// WithSeed fixes the graph's level-assignment random source, for
// reproducible tests. Callers that don't care get a time-seeded graph.
func WithSeed(seed int64) Option {
	return func(o *openOptions) { o.seed = seed; o.hasSeed = true }
}
