// Package zip bundles stored image variants into a single download.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

// Entry is one file of the archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Archive writes entries in order. Names are reduced to their base name and
// duplicates get a numeric suffix.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(path.Base(strings.ReplaceAll(e.Name, "\\", "/")), seen)
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if !e.Modified.IsZero() {
			hdr.Modified = e.Modified
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip: add %s: %w", name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func uniqueName(name string, seen map[string]int) string {
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
