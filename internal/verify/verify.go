// Package verify checks a packaged release archive against the layout
// contract: required entries present, checksums matching the embedded
// manifest, and (optionally) the front-end bundle's HTML referencing only
// assets that actually shipped.
package verify

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/manifest"
)

// Options selects which checks run.
type Options struct {
	// RequiredEntries must exist exactly (top-level flattened files, extras).
	RequiredEntries []string
	// AssetPrefix is the nested asset directory prefix, e.g. "dist/". At
	// least one entry must live under it.
	AssetPrefix string
	// Checksums re-hashes every entry listed in the embedded manifest.
	Checksums bool
	// HTMLAssets parses <AssetPrefix>index.html and confirms every locally
	// referenced asset is present in the archive.
	HTMLAssets bool
}

// Report summarizes a verification run.
type Report struct {
	Entries         int // total entries in the archive
	ChecksumsOK     int // artifacts whose hash matched
	HTMLAssetsOK    int // local HTML references found in the archive
	RequiredPresent int
}

// ErrEntryMissing reports a required entry absent from the archive.
type ErrEntryMissing struct {
	Entry string
}

func (e *ErrEntryMissing) Error() string {
	return fmt.Sprintf("archive is missing required entry %q", e.Entry)
}

// ErrChecksumMismatch reports an entry whose content does not match the manifest.
type ErrChecksumMismatch struct {
	Entry string
	Want  string
	Got   string
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %q: manifest %s, archive %s", e.Entry, e.Want, e.Got)
}

// Archive verifies the zip at zipPath according to opts.
func Archive(zipPath string, opts Options) (*Report, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	report := &Report{Entries: len(files)}

	for _, req := range opts.RequiredEntries {
		if _, ok := files[req]; !ok {
			return report, &ErrEntryMissing{Entry: req}
		}
		report.RequiredPresent++
	}

	if opts.AssetPrefix != "" {
		prefix := strings.TrimSuffix(opts.AssetPrefix, "/") + "/"
		found := false
		for name := range files {
			if strings.HasPrefix(name, prefix) {
				found = true
				break
			}
		}
		if !found {
			return report, &ErrEntryMissing{Entry: prefix}
		}
	}

	if opts.Checksums {
		n, err := verifyChecksums(files)
		if err != nil {
			return report, err
		}
		report.ChecksumsOK = n
	}

	if opts.HTMLAssets && opts.AssetPrefix != "" {
		n, err := verifyHTMLAssets(files, opts.AssetPrefix)
		if err != nil {
			return report, err
		}
		report.HTMLAssetsOK = n
	}

	slog.Debug("Archive verified",
		logfields.Archive(zipPath),
		slog.Int("entries", report.Entries),
		slog.Int("checksums_ok", report.ChecksumsOK))
	return report, nil
}

func verifyChecksums(files map[string]*zip.File) (int, error) {
	mf, ok := files[manifest.EntryName]
	if !ok {
		return 0, &ErrEntryMissing{Entry: manifest.EntryName}
	}
	data, err := readEntry(mf)
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, a := range m.Artifacts {
		f, ok := files[a.Entry]
		if !ok {
			return checked, &ErrEntryMissing{Entry: a.Entry}
		}
		sum, err := hashEntry(f)
		if err != nil {
			return checked, fmt.Errorf("hash entry %s: %w", a.Entry, err)
		}
		if sum != a.SHA256 {
			return checked, &ErrChecksumMismatch{Entry: a.Entry, Want: a.SHA256, Got: sum}
		}
		checked++
	}
	return checked, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func hashEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
