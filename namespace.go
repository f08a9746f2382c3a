package vkernel

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/vectorshelf/vkernel/internal/persist"
)

// namePattern is the grammar namespace names must match.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// reservedSuffixes are the sibling-path suffixes the engine itself creates
// next to a collection directory (staging, promotion, backup, restore, and
// the cross-process lockfile). Namespace names may not end in one, or a
// crashed operation's leftover scratch dir would be indistinguishable from
// a namespace.
var reservedSuffixes = []string{".tmp", ".old", ".backup", ".restore", ".lock"}

func reservedName(name string) bool {
	for _, s := range reservedSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Manager owns a root directory and a name-to-Collection map, one
// Collection per isolated subdirectory. It is guarded by its own
// reader-writer lock, separate from any Collection's lock, and never holds
// that lock across a Collection operation: every method below takes the
// lock only long enough to read or mutate the map itself.
type Manager struct {
	root   string
	mu     sync.RWMutex
	named  map[string]*Collection
	logger Logger

	// rootLock provides cross-process mutual exclusion on create/drop,
	// since the in-process mu only protects this one Manager instance.
	rootLock *flock.Flock
}

// NewManager returns a Manager rooted at root, creating the directory if
// it does not exist. It does not discover existing namespaces; call
// LoadNamespaces for that.
func NewManager(root string, opts ...Option) (*Manager, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrap("NewManager", KindIO, err)
	}
	return &Manager{
		root:     root,
		named:    make(map[string]*Collection),
		logger:   o.logger,
		rootLock: flock.New(filepath.Join(root, ".vkernel.lock")),
	}, nil
}

func validateName(name string) error {
	if !namePattern.MatchString(name) || reservedName(name) {
		return wrap("", KindConfiguration, fmt.Errorf("%w: %q", ErrInvalidNamespaceName, name))
	}
	return nil
}

func (m *Manager) pathFor(name string) string { return filepath.Join(m.root, name) }

// LoadNamespaces discovers every valid-looking subdirectory of root (one
// holding a manifest) and opens it eagerly, the way a process restart
// rediscovers its namespaces. Invalid or non-collection subdirectories are
// skipped, not an error.
func (m *Manager) LoadNamespaces() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return wrap("LoadNamespaces", KindIO, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !namePattern.MatchString(entry.Name()) || reservedName(entry.Name()) {
			continue
		}
		path := m.pathFor(entry.Name())
		if !collectionExists(path) {
			continue
		}
		coll, err := Open(path, WithLogger(m.logger))
		if err != nil {
			m.logger.Warn("skipping namespace that failed to load", "name", entry.Name(), "err", err)
			continue
		}
		m.mu.Lock()
		m.named[entry.Name()] = coll
		m.mu.Unlock()
	}
	return nil
}

// Create makes a new namespace named name with the given dimension, metric
// and graph parameters, failing if one already exists on disk or in
// memory. Acquires the cross-process root lock for the duration of the
// on-disk create, then releases it before returning — it is never held
// across a Collection operation.
func (m *Manager) Create(name string, dimension int, metric Metric, params GraphParams) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if _, exists := m.named[name]; exists {
		m.mu.Unlock()
		return nil, wrap("Create", KindConfiguration, fmt.Errorf("namespace %q already open", name))
	}
	m.mu.Unlock()

	if err := m.rootLock.Lock(); err != nil {
		return nil, wrap("Create", KindIO, err)
	}
	defer m.rootLock.Unlock()

	path := m.pathFor(name)
	if collectionExists(path) {
		return nil, wrap("Create", KindConfiguration, fmt.Errorf("namespace %q already exists on disk", name))
	}
	coll, err := Open(path, WithDimension(dimension), WithMetric(metric), WithGraphParams(params), WithLogger(m.logger))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.named[name] = coll
	m.mu.Unlock()
	return coll, nil
}

// Open returns the handle for an existing namespace, loading it from disk
// on first reference if it is not already in memory. It never creates a
// new namespace — use Create for that. The load itself runs with m.mu
// released; if two callers race the first reference, one loaded Collection
// wins and the other is discarded.
func (m *Manager) Open(name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if coll, ok := m.named[name]; ok {
		m.mu.RUnlock()
		return coll, nil
	}
	m.mu.RUnlock()

	path := m.pathFor(name)
	if !collectionExists(path) {
		return nil, wrap("Open", KindNotFound, ErrNotFound)
	}

	coll, err := Open(path, WithLogger(m.logger))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.named[name]; ok {
		return existing, nil
	}
	m.named[name] = coll
	return coll, nil
}

// Drop forgets a namespace's in-memory handle and permanently removes its
// subdirectory. Handles already returned to callers are not invalidated.
// Dropping an unknown namespace is a Not-found outcome.
func (m *Manager) Drop(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	path := m.pathFor(name)

	m.mu.Lock()
	_, known := m.named[name]
	delete(m.named, name)
	m.mu.Unlock()

	if !known && !collectionExists(path) {
		return wrap("Drop", KindNotFound, ErrNotFound)
	}

	if err := m.rootLock.Lock(); err != nil {
		return wrap("Drop", KindIO, err)
	}
	defer m.rootLock.Unlock()

	if err := os.RemoveAll(path); err != nil {
		return wrap("Drop", KindIO, err)
	}
	// Sweep the collection's sibling paths too (lockfile, any crashed
	// operation's scratch dirs), so a drop leaves no trace under root.
	for _, s := range reservedSuffixes {
		_ = os.RemoveAll(path + s)
	}
	m.logger.Info("namespace dropped", "name", name)
	return nil
}

// List returns the names of every namespace currently open in memory.
// Namespaces present on disk but never opened this process (and not yet
// discovered by LoadNamespaces) are not included.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.named))
	for name := range m.named {
		names = append(names, name)
	}
	return names
}

// Stats returns the stats of a single namespace, opening it first if
// needed.
func (m *Manager) Stats(name string) (Stats, error) {
	coll, err := m.Open(name)
	if err != nil {
		return Stats{}, err
	}
	return coll.Stats(), nil
}

func collectionExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return persist.Exists(path)
}
