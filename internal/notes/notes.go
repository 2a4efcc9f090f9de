// Package notes renders release notes from a markdown changelog into an HTML
// document that ships inside the release archive.
package notes

import (
	"bytes"
	"fmt"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// EntryName is the archive entry the rendered notes are stored under.
const EntryName = "release-notes.html"

const pageTemplate = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>%s release notes</title>
</head>
<body>
%s</body>
</html>
`

// Render reads the markdown source file and renders a standalone HTML page.
func Render(sourcePath, project string) ([]byte, error) {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read notes source: %w", err)
	}
	return RenderBytes(src, project)
}

// RenderBytes renders markdown content to a standalone HTML page.
func RenderBytes(src []byte, project string) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)

	var body bytes.Buffer
	if err := md.Convert(src, &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	return []byte(fmt.Sprintf(pageTemplate, project, body.String())), nil
}
