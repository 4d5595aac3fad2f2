package zipx

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// File is one logical archive entry. Mode zero means a regular 0o644 file.
type File struct {
	Path string
	Data []byte
	Mode os.FileMode
}

// deterministicModTime is the fixed per-entry timestamp. ZIP entry times have
// 2-second local-time resolution, so the wall clock would break byte-identical
// rebuilds.
var deterministicModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// WriteDeterministicZip writes the entries as a ZIP archive whose bytes depend
// only on the logical {path: data, mode} set: entries are sorted by path,
// timestamps are a fixed constant, the creator host byte is forced to Unix,
// and every entry uses deflate at best compression. Duplicate paths are a
// caller error.
func WriteDeterministicZip(output io.Writer, files []File) error {
	sorted := append([]File{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	seen := make(map[string]struct{}, len(sorted))
	writer := zip.NewWriter(output)
	writer.RegisterCompressor(zip.Deflate, func(target io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(target, flate.BestCompression)
	})

	for _, file := range sorted {
		if file.Path == "" {
			return fmt.Errorf("zip entry path is required")
		}
		if _, duplicate := seen[file.Path]; duplicate {
			return fmt.Errorf("duplicate zip entry path: %s", file.Path)
		}
		seen[file.Path] = struct{}{}

		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		header := &zip.FileHeader{
			Name:     file.Path,
			Method:   zip.Deflate,
			Modified: deterministicModTime,
		}
		// SetMode fills ExternalAttrs from the mode and pins the
		// "version made by" host byte to Unix.
		header.SetMode(mode)

		entry, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", file.Path, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return fmt.Errorf("write zip entry %s: %w", file.Path, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}
