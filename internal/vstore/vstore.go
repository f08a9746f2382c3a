// Package vstore implements the Vector Store: the canonical, append-only
// copy of every vector and metadata document, keyed by InternalIndex. Reads
// by index are O(1); iteration yields raw rows regardless of liveness — the
// caller (the Collection Engine) filters tombstones through the identifier
// map before trusting a row.
package vstore

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vectorshelf/vkernel/internal/encoding"
)

// Store holds one row per InternalIndex. Metadata is kept as its raw
// encoded JSON bytes, mirroring the on-disk framing directly, and decoded
// on Get through a bounded LRU cache, so repeated reads of the same row pay
// the json.Unmarshal cost only on a cache miss. Vector skips the decode.
type Store struct {
	dim       int
	vectors   [][]float32
	metaRaw   [][]byte
	metaCache *lru.Cache[uint32, map[string]any]
}

// New returns an empty store for vectors of the given dimension. cacheSize
// bounds the decoded-metadata LRU; 0 disables caching.
func New(dim, cacheSize int) *Store {
	s := &Store{dim: dim}
	if cacheSize > 0 {
		s.metaCache, _ = lru.New[uint32, map[string]any](cacheSize)
	}
	return s
}

// Dimension reports the fixed vector width.
func (s *Store) Dimension() int { return s.dim }

// Len reports the number of rows, live or tombstoned.
func (s *Store) Len() int { return len(s.vectors) }

// Append adds one row and returns its InternalIndex (the row's position).
func (s *Store) Append(vector []float32, metadata map[string]any) (uint32, error) {
	if len(vector) != s.dim {
		return 0, encoding.ErrInvalidVector
	}
	raw, err := encoding.EncodeMetadata(metadata)
	if err != nil {
		return 0, err
	}
	idx := uint32(len(s.vectors))
	s.vectors = append(s.vectors, append([]float32(nil), vector...))
	s.metaRaw = append(s.metaRaw, raw)
	if s.metaCache != nil {
		s.metaCache.Add(idx, metadata)
	}
	return idx, nil
}

// Get returns the vector and decoded metadata at idx. ok is false if idx is
// out of range.
func (s *Store) Get(idx uint32) (vector []float32, metadata map[string]any, ok bool) {
	if int(idx) >= len(s.vectors) {
		return nil, nil, false
	}
	vector = s.vectors[idx]
	if s.metaCache != nil {
		if cached, hit := s.metaCache.Get(idx); hit {
			return vector, cached, true
		}
	}
	decoded, err := encoding.DecodeMetadata(s.metaRaw[idx])
	if err != nil {
		return vector, nil, true
	}
	if s.metaCache != nil {
		s.metaCache.Add(idx, decoded)
	}
	return vector, decoded, true
}

// Vector returns only the vector at idx, skipping metadata decode entirely.
func (s *Store) Vector(idx uint32) ([]float32, bool) {
	if int(idx) >= len(s.vectors) {
		return nil, false
	}
	return s.vectors[idx], true
}

// Range calls fn for every row, live or not; the caller is expected to
// check liveness itself (via the identifier map) before acting on a row.
func (s *Store) Range(fn func(idx uint32, vector []float32, metadata map[string]any) bool) {
	for i := range s.vectors {
		vector, metadata, _ := s.Get(uint32(i))
		if !fn(uint32(i), vector, metadata) {
			return
		}
	}
}

// RawMetadata returns the undecoded JSON bytes at idx, used by the
// persistence layer when writing the metadata file directly.
func (s *Store) RawMetadata(idx uint32) ([]byte, bool) {
	if int(idx) >= len(s.metaRaw) {
		return nil, false
	}
	return s.metaRaw[idx], true
}

// AppendRaw appends a row using already-encoded metadata bytes, used by the
// persistence layer when loading from disk (avoids a decode-then-encode
// round trip for rows the caller never inspects before the next write).
func (s *Store) AppendRaw(vector []float32, rawMetadata []byte) uint32 {
	idx := uint32(len(s.vectors))
	s.vectors = append(s.vectors, vector)
	s.metaRaw = append(s.metaRaw, rawMetadata)
	return idx
}

// EncodeMetadataBytes exposes the metadata encoder for callers (e.g. the
// Collection Engine validating a metadata document before Append).
func EncodeMetadataBytes(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return json.RawMessage("null"), nil
	}
	return encoding.EncodeMetadata(metadata)
}
