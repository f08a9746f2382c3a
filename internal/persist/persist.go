package persist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/vectorshelf/vkernel/internal/annindex"
	"github.com/vectorshelf/vkernel/internal/encoding"
	"github.com/vectorshelf/vkernel/internal/idmap"
	"github.com/vectorshelf/vkernel/internal/vstore"
)

// Save writes the full on-disk layout for one collection generation: all
// files are staged under a sibling `.tmp` directory, flushed, then promoted
// over the live directory in one rename-swap (see atomic.go). The whole
// stage-then-promote sequence runs under an OS-level exclusive lock on a
// sibling lockfile, so two processes saving the same directory cannot
// interleave their renames. graph may be nil, in which case no `graph`
// file is written and a subsequent Load simply rebuilds it.
func Save(dir string, manifest Manifest, ids *idmap.Map, vectors *vstore.Store, graph *annindex.Graph) (err error) {
	lock := flock.New(lockPath(dir))
	if lockErr := lock.Lock(); lockErr != nil {
		return fmt.Errorf("persist: acquire save lock: %w", lockErr)
	}
	defer lock.Unlock()

	tmpDir := dir + ".tmp"
	if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
		return fmt.Errorf("persist: clear scratch dir: %w", rmErr)
	}
	if mkErr := os.MkdirAll(tmpDir, 0o755); mkErr != nil {
		return fmt.Errorf("persist: create scratch dir: %w", mkErr)
	}
	// Scoped resource release: the scratch directory is removed on every
	// exit path once its contents have either been promoted or abandoned.
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	sums := checksums{}

	manifestBytes, err := writeManifest(manifest)
	if err != nil {
		return fmt.Errorf("persist: encode manifest: %w", err)
	}
	if err = stageFile(tmpDir, manifestFile, manifestBytes, sums); err != nil {
		return err
	}

	idBytes, err := encodeIdentifiers(ids)
	if err != nil {
		return fmt.Errorf("persist: encode identifiers: %w", err)
	}
	if err = stageFile(tmpDir, identifiersFile, idBytes, sums); err != nil {
		return err
	}

	vecBytes, err := encodeVectors(vectors)
	if err != nil {
		return fmt.Errorf("persist: encode vectors: %w", err)
	}
	if err = stageFile(tmpDir, vectorsFile, vecBytes, sums); err != nil {
		return err
	}

	metaBytes, err := encodeMetadataRows(vectors)
	if err != nil {
		return fmt.Errorf("persist: encode metadata: %w", err)
	}
	if err = stageFile(tmpDir, metadataFile, metaBytes, sums); err != nil {
		return err
	}

	if graph != nil {
		var buf bytes.Buffer
		if serErr := graph.Serialize(&buf); serErr == nil {
			if err = stageFile(tmpDir, graphFile, buf.Bytes(), sums); err != nil {
				return err
			}
		}
		// A serialize error here is swallowed deliberately: the graph file
		// is a cache, and the next Load rebuilds it from the authoritative
		// vector store when it's missing.
	}

	sumBytes, err := encodeChecksums(sums)
	if err != nil {
		return fmt.Errorf("persist: encode checksums: %w", err)
	}
	if err = os.WriteFile(filepath.Join(tmpDir, checksumFile), sumBytes, 0o644); err != nil {
		return fmt.Errorf("persist: write checksums: %w", err)
	}

	if err = promote(dir, tmpDir); err != nil {
		return fmt.Errorf("persist: promote: %w", err)
	}
	return nil
}

func stageFile(tmpDir, name string, data []byte, sums checksums) error {
	if err := os.WriteFile(filepath.Join(tmpDir, name), data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", name, err)
	}
	sums[name] = hashOf(data)
	return nil
}

func encodeIdentifiers(ids *idmap.Map) ([]byte, error) {
	var buf bytes.Buffer
	for idx := uint32(0); idx < ids.Next(); idx++ {
		id, ok := ids.Reverse(idx)
		if !ok {
			if err := encoding.WriteRecord(&buf, nil); err != nil {
				return nil, err
			}
			continue
		}
		if err := encoding.WriteRecord(&buf, []byte(id)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeVectors(vectors *vstore.Store) ([]byte, error) {
	var buf bytes.Buffer
	for idx := uint32(0); idx < uint32(vectors.Len()); idx++ {
		vec, ok := vectors.Vector(idx)
		if !ok {
			return nil, fmt.Errorf("persist: missing vector row %d", idx)
		}
		if err := encoding.EncodeVector(&buf, vec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeMetadataRows(vectors *vstore.Store) ([]byte, error) {
	var buf bytes.Buffer
	for idx := uint32(0); idx < uint32(vectors.Len()); idx++ {
		raw, ok := vectors.RawMetadata(idx)
		if !ok {
			raw = []byte("null")
		}
		if err := encoding.WriteRecord(&buf, raw); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Loaded is the result of a successful Load: the reconstructed in-memory
// structures plus whether the graph had to be rebuilt from scratch.
type Loaded struct {
	Manifest     Manifest
	IDs          *idmap.Map
	Vectors      *vstore.Store
	Graph        *annindex.Graph
	GraphRebuilt bool
}

// Load reads dir's on-disk layout, first recovering from any interrupted
// save (see atomic.go). It holds the same exclusive lock as Save for its
// duration: crash recovery renames directories, and the files read must
// all come from one generation, not a half-promoted mix. A checksum
// mismatch on identifiers, vectors or metadata is fatal; a missing or
// corrupt graph file is not — the graph is a cache and Load signals
// GraphRebuilt so the caller can rebuild it from the authoritative vector
// store.
func Load(dir string, metricDial func(string) (annindex.Metric, bool), cacheSize int, seed int64) (*Loaded, error) {
	lock := flock.New(lockPath(dir))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("persist: acquire dir lock: %w", err)
	}
	defer lock.Unlock()

	if err := recoverCrash(dir); err != nil {
		return nil, fmt.Errorf("persist: crash recovery: %w", err)
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	sumBytes, err := os.ReadFile(filepath.Join(dir, checksumFile))
	if err != nil {
		return nil, fmt.Errorf("persist: read checksums: %w", err)
	}
	sums, err := decodeChecksums(sumBytes)
	if err != nil {
		return nil, fmt.Errorf("persist: decode checksums: %w", err)
	}

	idBytes, err := readAndVerify(dir, identifiersFile, sums)
	if err != nil {
		return nil, err
	}
	vecBytes, err := readAndVerify(dir, vectorsFile, sums)
	if err != nil {
		return nil, err
	}
	metaBytes, err := readAndVerify(dir, metadataFile, sums)
	if err != nil {
		return nil, err
	}

	ids, err := decodeIdentifiers(idBytes)
	if err != nil {
		return nil, fmt.Errorf("persist: decode identifiers: %w", err)
	}

	vectors, err := decodeVectorsAndMetadata(manifest.Dimension, vecBytes, metaBytes, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("persist: decode vectors: %w", err)
	}

	metric, ok := metricDial(manifest.Metric)
	if !ok {
		return nil, fmt.Errorf("persist: unknown metric %q in manifest", manifest.Metric)
	}
	params := annindex.Params{
		M:              manifest.GraphParams.M,
		EfConstruction: manifest.GraphParams.EfConstruction,
		MaxLayer:       manifest.GraphParams.MaxLayer,
		MaxElements:    manifest.GraphParams.MaxElements,
	}

	result := &Loaded{Manifest: manifest, IDs: ids, Vectors: vectors}

	graphBytes, graphOK := readIfChecksumMatches(dir, graphFile, sums)
	if graphOK {
		g := annindex.New(metric, params, seed)
		if derr := g.Deserialize(bytes.NewReader(graphBytes)); derr == nil {
			result.Graph = g
			return result, nil
		}
	}
	result.Graph = annindex.New(metric, params, seed)
	result.GraphRebuilt = true
	return result, nil
}

func readAndVerify(dir, name string, sums checksums) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", name, err)
	}
	want, ok := sums[name]
	if !ok || want != hashOf(data) {
		return nil, fmt.Errorf("persist: checksum mismatch for %s", name)
	}
	return data, nil
}

func readIfChecksumMatches(dir, name string, sums checksums) ([]byte, bool) {
	want, ok := sums[name]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil || hashOf(data) != want {
		return nil, false
	}
	return data, true
}

func decodeIdentifiers(data []byte) (*idmap.Map, error) {
	m := idmap.New()
	r := bytes.NewReader(data)
	var idx uint32
	for {
		record, err := encoding.ReadRecord(r)
		if err != nil {
			break
		}
		if len(record) > 0 {
			m.RestoreLive(idx, string(record))
		}
		idx++
	}
	m.SetNext(idx)
	return m, nil
}

func decodeVectorsAndMetadata(dim int, vecData, metaData []byte, cacheSize int) (*vstore.Store, error) {
	store := vstore.New(dim, cacheSize)
	vr := bytes.NewReader(vecData)
	mr := bytes.NewReader(metaData)
	for {
		vec, err := encoding.DecodeVector(vr, dim)
		if err != nil {
			break
		}
		raw, err := encoding.ReadRecord(mr)
		if err != nil {
			raw = []byte("null")
		}
		store.AppendRaw(vec, raw)
	}
	return store, nil
}
