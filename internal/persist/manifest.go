// Package persist implements the Persistence Layer: the on-disk layout
// (manifest, identifiers, vectors, metadata, graph, checksum), atomic
// replace on save, and crash recovery on load. The backup/restore archive
// is built on top of this layout by the root package. The serialized
// graph is a cache; the identifier map and vector store are authoritative
// and a load rebuilds the graph whenever the cache is absent or corrupt.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FormatVersion is the current on-disk manifest format.
const FormatVersion = 1

const (
	manifestFile    = "manifest"
	identifiersFile = "identifiers"
	vectorsFile     = "vectors"
	metadataFile    = "metadata"
	graphFile       = "graph"
	checksumFile    = "checksum"
)

// GraphParams mirrors annindex.Params in the manifest's on-disk shape, kept
// as its own type so this package does not need to import annindex just to
// read a manifest.
type GraphParams struct {
	M              int `json:"M"`
	EfConstruction int `json:"ef_construction"`
	MaxLayer       int `json:"max_layer"`
	MaxElements    int `json:"max_elements"`
}

// Manifest is the collection's self-describing header, written and read as
// JSON. Dimension and Metric are fixed for the collection's lifetime once
// written; re-opening with a mismatched expected dimension is a fatal
// configuration error.
type Manifest struct {
	FormatVersion int         `json:"format_version"`
	Dimension     int         `json:"dimension"`
	Metric        string      `json:"metric"`
	GraphParams   GraphParams `json:"graph_params"`
	Generation    int         `json:"generation"`
}

func readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("persist: decode manifest: %w", err)
	}
	return m, nil
}

func writeManifest(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Exists reports whether dir looks like a collection directory: a manifest
// file is present (its content is not read or checked here). Collection.Open uses this to decide create vs. load.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestFile))
	return err == nil
}
