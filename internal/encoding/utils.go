// Package encoding implements the binary framing used by the on-disk
// vectors, metadata and identifiers files: fixed-width little-endian float32
// rows for vectors, length-prefixed byte rows for everything else.
package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrInvalidVector is returned when a vector is invalid.
var ErrInvalidVector = errors.New("invalid vector")

// ErrTruncated is returned when a length-prefixed record is cut short.
var ErrTruncated = errors.New("truncated record")

// EncodeVector appends a fixed-width little-endian float32 row (no length
// prefix: every row in the vectors file has the same width, the collection
// dimension).
func EncodeVector(w io.Writer, vector []float32) error {
	if vector == nil {
		return ErrInvalidVector
	}
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// DecodeVector reads one fixed-width row of dim float32 values.
func DecodeVector(r io.Reader, dim int) ([]float32, error) {
	buf := make([]byte, 4*dim)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	vector := make([]float32, dim)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector, nil
}

// WriteRecord writes a length-prefixed (uint32 LE) byte record, the framing
// used for both the identifiers file and the metadata file.
func WriteRecord(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("record too large: %d bytes", len(data))
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadRecord reads one length-prefixed byte record. A zero-length record is
// valid (absent-but-allocated slot); the caller distinguishes tombstones at
// a higher layer.
func ReadRecord(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, ErrTruncated
	}
	return data, nil
}

// EncodeMetadata marshals a metadata document to its canonical JSON bytes.
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata unmarshals a metadata document from JSON bytes.
func DecodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

// ValidateVector rejects nil, empty, NaN or infinite vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		if val != val || math.IsInf(float64(val), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
