package vkernel

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vectorshelf/vkernel/internal/persist"
)

const backupFormatVersion = 1

// backupHeader is the archive's first tar entry: a JSON document noting
// the origin collection, a wall-clock timestamp, and the format version.
// Restore validates it before touching any collection state.
type backupHeader struct {
	ArchiveID      string    `json:"archive_id"`
	Collection     string    `json:"collection"`
	Timestamp      time.Time `json:"timestamp"`
	FormatVersion  int       `json:"format_version"`
	ManifestFormat int       `json:"manifest_format_version"`
}

const backupHeaderEntry = "vkernel-backup.json"

// Backup writes a self-contained, gzip-compressed tar archive of the
// collection's current state to w: a JSON header followed by the files of
// the on-disk layout. The in-memory state is staged to a scratch directory
// first, so the archive always reflects what callers currently see, not
// just the last Save.
func (c *Collection) Backup(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	scratch := c.dir + ".backup"
	if err := os.RemoveAll(scratch); err != nil {
		return wrap("Backup", KindIO, err)
	}
	defer os.RemoveAll(scratch)
	if err := c.writeTo(scratch, int(c.generation.Load())); err != nil {
		return wrap("Backup", KindIO, err)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	header := backupHeader{
		ArchiveID:      uuid.NewString(),
		Collection:     filepath.Base(c.dir),
		Timestamp:      time.Now(),
		FormatVersion:  backupFormatVersion,
		ManifestFormat: persist.FormatVersion,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return wrap("Backup", KindIO, err)
	}
	if err := writeTarEntry(tw, backupHeaderEntry, headerBytes); err != nil {
		return wrap("Backup", KindIO, err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return wrap("Backup", KindIO, err)
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(scratch, entry.Name()))
		if err != nil {
			return wrap("Backup", KindIO, err)
		}
		if err := writeTarEntry(tw, entry.Name(), data); err != nil {
			return wrap("Backup", KindIO, err)
		}
		total += int64(len(data))
	}

	if err := tw.Close(); err != nil {
		return wrap("Backup", KindIO, err)
	}
	if err := gz.Close(); err != nil {
		return wrap("Backup", KindIO, err)
	}
	c.logger.Info("backup complete", "bytes", humanizeBytes(total), "archive_id", header.ArchiveID)
	return nil
}

// BackupTo is the path-based convenience form of Backup.
func (c *Collection) BackupTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return wrap("BackupTo", KindIO, err)
	}
	defer f.Close()
	return c.Backup(f)
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Restore replaces this Collection's on-disk directory and in-memory state
// with the contents of a gzip-compressed tar archive produced by Backup. A
// truncated archive or one missing the header entry is a fatal I/O error;
// nothing is applied until the whole archive has been read into a scratch
// directory and loaded from it. The loaded state then replaces the
// in-memory state and is written to the collection's directory with the
// same atomic replace used by Save; the scratch directory is removed.
func (c *Collection) Restore(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return wrap("Restore", KindIO, fmt.Errorf("%w: %v", ErrCorruptArchive, err))
	}
	tr := tar.NewReader(gz)

	tmpDir := c.dir + ".restore"
	if err := os.RemoveAll(tmpDir); err != nil {
		return wrap("Restore", KindIO, err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return wrap("Restore", KindIO, err)
	}
	defer os.RemoveAll(tmpDir)

	var sawHeader bool
	var hdr backupHeader
	for {
		entry, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return wrap("Restore", KindIO, fmt.Errorf("%w: %v", ErrCorruptArchive, err))
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return wrap("Restore", KindIO, fmt.Errorf("%w: %v", ErrCorruptArchive, err))
		}
		if entry.Name == backupHeaderEntry {
			if err := json.Unmarshal(data, &hdr); err != nil {
				return wrap("Restore", KindIO, fmt.Errorf("%w: %v", ErrCorruptArchive, err))
			}
			if hdr.FormatVersion != backupFormatVersion {
				return wrap("Restore", KindIO, fmt.Errorf("%w: unsupported backup format %d", ErrCorruptArchive, hdr.FormatVersion))
			}
			sawHeader = true
			continue
		}
		if err := os.WriteFile(filepath.Join(tmpDir, entry.Name), data, 0o644); err != nil {
			return wrap("Restore", KindIO, err)
		}
	}
	if !sawHeader {
		return wrap("Restore", KindIO, fmt.Errorf("%w: missing header entry", ErrCorruptArchive))
	}

	loaded, err := persist.Load(tmpDir, metricDial, c.cacheSize, c.seed)
	if err != nil {
		return wrap("Restore", KindIO, err)
	}
	if loaded.Manifest.Dimension != c.dimension {
		return wrap("Restore", KindConfiguration, fmt.Errorf("%w: archive has %d, collection has %d",
			ErrDimensionMismatch, loaded.Manifest.Dimension, c.dimension))
	}
	if loaded.Manifest.Metric != string(c.metric) {
		return wrap("Restore", KindConfiguration, fmt.Errorf("%w: archive has %q, collection has %q",
			ErrMetricMismatch, loaded.Manifest.Metric, c.metric))
	}

	c.ids = loaded.IDs
	c.vectors = loaded.Vectors
	c.graph = loaded.Graph
	c.generation.Store(int64(loaded.Manifest.Generation))
	if loaded.GraphRebuilt {
		if err := c.rebuildGraphLocked(); err != nil {
			return wrap("Restore", KindIO, err)
		}
	}
	if err := c.saveLocked(); err != nil {
		return wrap("Restore", KindIO, err)
	}
	c.logger.Info("restore complete", "count", c.ids.Len(),
		"origin", hdr.Collection, "archive_written", humanizeSince(hdr.Timestamp))
	return nil
}

// RestoreFrom is the path-based convenience form of Restore.
func (c *Collection) RestoreFrom(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return wrap("RestoreFrom", KindIO, err)
	}
	defer f.Close()
	return c.Restore(f)
}
