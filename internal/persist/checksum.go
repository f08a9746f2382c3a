package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// checksums maps a tracked filename to the hex-encoded sha256 of its
// content, written as the collection's `checksum` file and consulted at
// load to detect corruption before trusting each file.
type checksums map[string]string

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeChecksums(c checksums) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func decodeChecksums(data []byte) (checksums, error) {
	var c checksums
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}
