package notes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderBytesHeadingsAndGFM(t *testing.T) {
	out, err := RenderBytes([]byte("# v1.2.0\n\n- fixed piece snapping\n- ~~old renderer~~\n"), "puzzle")
	require.NoError(t, err)

	html := string(out)
	require.Contains(t, html, "<h1")
	require.Contains(t, html, "fixed piece snapping")
	// Strikethrough only renders with the GFM extension enabled.
	require.Contains(t, html, "<del>old renderer</del>")
	require.Contains(t, html, "<title>puzzle release notes</title>")
}

func TestRenderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte("## Changes\n\ntext\n"), 0o644))

	out, err := Render(path, "puzzle")
	require.NoError(t, err)
	require.Contains(t, string(out), "<h2")
}

func TestRenderMissingFile(t *testing.T) {
	_, err := Render(filepath.Join(t.TempDir(), "absent.md"), "puzzle")
	require.Error(t, err)
}
