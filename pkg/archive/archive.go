// Package archive bundles encoded images into one uncompressed tar file.
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"regionsplat/internal/models"
	"regionsplat/pkg/errs"
)

// Extension is the archive filename extension.
const Extension = ".tar"

// Entry is one file stored in an archive.
type Entry struct {
	Name string
	Data []byte
}

// Build serialises entries in order as regular files. Sizes and modification
// times are synthesised; now is used for every entry.
func Build(entries []Entry, now time.Time) ([]byte, error) {
	seen := make(map[string]bool, len(entries))
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		name := path.Clean(strings.TrimPrefix(filepath.ToSlash(e.Name), "/"))
		if name == "." || name == "" {
			return nil, errs.Value("archive.build", "entry has no name")
		}
		if seen[name] {
			return nil, errs.Value("archive.build", "duplicate entry %q", name)
		}
		seen[name] = true

		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(e.Data)),
			ModTime:  now,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive: header %s: %w", name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return nil, fmt.Errorf("archive: write %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Commit builds the archive in memory and writes it to dst in one go, so a
// failing entry never leaves an archive behind.
func Commit(fs billy.Filesystem, dst string, entries []Entry, now time.Time) error {
	data, err := Build(entries, now)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(dst); dir != "." && dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errs.Resource("archive.commit", dir, err)
		}
	}
	if err := util.WriteFile(fs, dst, data, 0o644); err != nil {
		return errs.Resource("archive.commit", dst, err)
	}
	return nil
}

// Path replaces the extension of base with the archive extension.
func Path(base string) string {
	return strings.TrimSuffix(base, filepath.Ext(base)) + Extension
}

// Stem is the filename of p without directory or extension.
func Stem(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// IdentifierEntry names a splat output: {stem}/Identifier-{id}.{ext}.
func IdentifierEntry(stem string, id uint64, ext string) string {
	return path.Join(stem, models.RegionEntry{Identifier: id}.String()+"."+ext)
}

// CoordinateEntry names a decomposed layer: {stem}/Directory-{d}_Depth-{k}.{ext}.
func CoordinateEntry(stem string, c models.SliceCoordinate, ext string) string {
	return path.Join(stem, c.String()+"."+ext)
}
