package vault

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"graphedit/internal/engine/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleSnapshot() graph.Snapshot {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return graph.Snapshot{
		Entities: []graph.Entity{
			{ID: "a1", Name: "Alice Smith", Type: "person", Properties: map[string]string{"role": "cto"},
				Position: graph.Position{X: 1.5, Y: 2}, CreatedAt: ts, UpdatedAt: ts},
			{ID: "b2", Name: "Acme", Type: "organization", CreatedAt: ts.Add(time.Second), UpdatedAt: ts},
			{ID: "c3", Name: "Acme", Type: "organization", CreatedAt: ts.Add(2 * time.Second), UpdatedAt: ts},
		},
		Connections: []graph.Connection{
			{ID: "x", From: "a1", To: "b2", Label: "works at"},
			{ID: "y", From: "c3", To: "a1"},
		},
	}
}

func readFrontmatter(t *testing.T, data []byte) frontmatter {
	t.Helper()
	parts := bytes.SplitN(data, []byte("---\n"), 3)
	require.Len(t, parts, 3, "note must start with a frontmatter block")
	var fm frontmatter
	require.NoError(t, yaml.Unmarshal(parts[1], &fm))
	return fm
}

func TestExport_WritesLinkedNotes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vault")
	res, err := NewExporter(nil).Export(context.Background(), dir, sampleSnapshot())
	require.NoError(t, err)
	assert.Len(t, res.Written, 3)

	alice, err := os.ReadFile(filepath.Join(dir, "Alice-Smith.md"))
	require.NoError(t, err)

	fm := readFrontmatter(t, alice)
	assert.Equal(t, "a1", fm.ID)
	assert.Equal(t, "person", fm.Type)
	assert.Equal(t, graph.Position{X: 1.5, Y: 2}, fm.Position)
	assert.Equal(t, "cto", fm.Properties["role"])

	body := string(alice)
	assert.Contains(t, body, "# Alice Smith")
	assert.Contains(t, body, "- works at [[Acme]]")
	assert.Contains(t, body, "- [[Acme-c3]] related to this")
}

func TestExport_DisambiguatesDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	_, err := NewExporter(nil).Export(context.Background(), dir, sampleSnapshot())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "Acme.md"))
	assert.NoError(t, err)
	dup, err := os.ReadFile(filepath.Join(dir, "Acme-c3.md"))
	require.NoError(t, err)
	assert.Equal(t, "c3", readFrontmatter(t, dup).ID)
}

func TestExport_NoConnectionsSection(t *testing.T) {
	dir := t.TempDir()
	snap := graph.Snapshot{Entities: []graph.Entity{{ID: "solo", Name: "Solo"}}}
	_, err := NewExporter(nil).Export(context.Background(), dir, snap)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "Solo.md"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "## Connections"))
}

func TestExport_Validation(t *testing.T) {
	_, err := NewExporter(nil).Export(context.Background(), "  ", sampleSnapshot())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewExporter(nil).Export(ctx, t.TempDir(), sampleSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
}
