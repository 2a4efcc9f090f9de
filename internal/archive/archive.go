// Package archive builds and extracts release zip archives.
//
// The archive layout follows the release contract: standalone files (server
// binary, run script) sit flattened at the archive top level without any
// directory prefix, while the built static assets are carried as a nested
// directory keeping the asset directory's base name (e.g. dist/index.html).
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// Spec declares the archive content. All source paths must be absolute.
type Spec struct {
	// Flatten files are stored at the top level under their base name.
	Flatten []string
	// AssetDir is stored recursively under its base name.
	AssetDir string
	// Extras are generated entries (manifest, checksums, release notes)
	// written from memory. Keys are archive entry names.
	Extras map[string][]byte
}

// ErrEntryMissing reports a required input that does not exist on disk.
type ErrEntryMissing struct {
	Path string
}

func (e *ErrEntryMissing) Error() string {
	return fmt.Sprintf("archive input missing: %s", e.Path)
}

// Create writes the zip archive described by spec to zipPath. Entries are
// written in deterministic (sorted) order and file mode bits are preserved so
// the server binary and run script stay executable after extraction.
func Create(zipPath string, spec Spec) error {
	entries, err := collectEntries(spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(zipPath), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	// A failed write must not leave a truncated zip behind.
	discard := func(err error) error {
		f.Close()
		os.Remove(zipPath)
		return err
	}

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := writeEntry(zw, e); err != nil {
			zw.Close()
			return discard(err)
		}
	}
	if err := zw.Close(); err != nil {
		return discard(fmt.Errorf("finalize archive: %w", err))
	}
	if err := f.Close(); err != nil {
		return discard(fmt.Errorf("close archive file: %w", err))
	}

	slog.Debug("Archive created", logfields.Archive(zipPath), slog.Int("entries", len(entries)))
	return nil
}

type entry struct {
	name   string // archive entry name, forward slashes
	source string // file on disk; empty for in-memory entries
	data   []byte
	mode   fs.FileMode
}

func collectEntries(spec Spec) ([]entry, error) {
	var entries []entry

	for _, src := range spec.Flatten {
		info, err := os.Stat(src)
		if err != nil {
			return nil, &ErrEntryMissing{Path: src}
		}
		if info.IsDir() {
			return nil, fmt.Errorf("flatten entry is a directory: %s", src)
		}
		entries = append(entries, entry{
			name:   EntryName(filepath.Base(src)),
			source: src,
			mode:   info.Mode(),
		})
	}

	if spec.AssetDir != "" {
		info, err := os.Stat(spec.AssetDir)
		if err != nil || !info.IsDir() {
			return nil, &ErrEntryMissing{Path: spec.AssetDir}
		}
		prefix := filepath.Base(spec.AssetDir)
		walkErr := filepath.WalkDir(spec.AssetDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(spec.AssetDir, path)
			if err != nil {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			entries = append(entries, entry{
				name:   EntryName(filepath.ToSlash(filepath.Join(prefix, rel))),
				source: path,
				mode:   fi.Mode(),
			})
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("walk asset directory: %w", walkErr)
		}
	}

	for name, data := range spec.Extras {
		entries = append(entries, entry{name: EntryName(name), data: data, mode: 0o644})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.name] {
			return nil, fmt.Errorf("duplicate archive entry: %s", e.name)
		}
		seen[e.name] = true
	}
	return entries, nil
}

func writeEntry(zw *zip.Writer, e entry) error {
	hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
	hdr.SetMode(e.mode)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", e.name, err)
	}

	if e.source == "" {
		if _, err := w.Write(e.data); err != nil {
			return fmt.Errorf("write entry %s: %w", e.name, err)
		}
		return nil
	}

	src, err := os.Open(e.source)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.source, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write entry %s: %w", e.name, err)
	}
	return nil
}

// Inputs returns the on-disk entries the spec will store, keyed by archive
// entry name. Generated extras are not included. Used to hash artifacts into
// the manifest before the archive is written.
func Inputs(spec Spec) (map[string]string, error) {
	entries, err := collectEntries(Spec{Flatten: spec.Flatten, AssetDir: spec.AssetDir})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.name] = e.source
	}
	return m, nil
}

// EntryName normalizes an archive entry name: forward slashes and NFC so the
// same logical name hashes identically regardless of the build host's
// filename encoding.
func EntryName(name string) string {
	return norm.NFC.String(filepath.ToSlash(name))
}

// List returns the entry names of an archive in stored order.
func List(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// Extract unpacks the archive into destDir, preserving file modes. Entry
// names are validated against path traversal before any write.
func Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractFile(f, destDir); err != nil {
			return err
		}
	}

	slog.Debug("Archive extracted", logfields.Archive(zipPath), logfields.Path(destDir))
	return nil
}

func extractFile(f *zip.File, destDir string) error {
	cleaned := filepath.Clean(filepath.FromSlash(f.Name))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}
	target := filepath.Join(destDir, cleaned)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o750)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract entry %s: %w", f.Name, err)
	}
	return out.Close()
}
