package verify

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// verifyHTMLAssets parses the bundle's index.html and confirms that every
// locally referenced asset (script src, link href, img src, preload...) exists
// in the archive. External URLs, anchors and data URIs are ignored.
func verifyHTMLAssets(files map[string]*zip.File, assetPrefix string) (int, error) {
	prefix := strings.TrimSuffix(assetPrefix, "/") + "/"
	indexName := prefix + "index.html"

	indexFile, ok := files[indexName]
	if !ok {
		return 0, &ErrEntryMissing{Entry: indexName}
	}
	data, err := readEntry(indexFile)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", indexName, err)
	}

	refs, err := extractLocalRefs(data)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", indexName, err)
	}

	checked := 0
	for _, ref := range refs {
		entry := path.Join(prefix, ref)
		if _, ok := files[entry]; !ok {
			return checked, &ErrEntryMissing{Entry: entry}
		}
		checked++
	}
	return checked, nil
}

// extractLocalRefs walks the HTML tree collecting relative src/href values.
func extractLocalRefs(data []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var refs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "src" && attr.Key != "href" {
					continue
				}
				if ref, ok := localRef(attr.Val); ok {
					refs = append(refs, ref)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return refs, nil
}

// localRef normalizes an attribute value to an archive-relative path, or
// reports that the reference is external and should be skipped.
func localRef(val string) (string, bool) {
	v := strings.TrimSpace(val)
	if v == "" || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "//") || strings.Contains(v, "://") ||
		strings.HasPrefix(v, "mailto:") {
		return "", false
	}
	// Strip query and fragment.
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimPrefix(v, "./")
	v = strings.TrimPrefix(v, "/")
	if v == "" || strings.HasSuffix(v, "/") {
		return "", false
	}
	return v, true
}
