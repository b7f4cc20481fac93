// Package vault exports the graph as a folder of markdown notes, one per
// entity, linked with [[wiki links]].
package vault

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/core/ports"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/util"

	"gopkg.in/yaml.v3"
)

type frontmatter struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type,omitempty"`
	Position   graph.Position    `yaml:"position"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Created    time.Time         `yaml:"created"`
	Updated    time.Time         `yaml:"updated"`
}

type Exporter struct {
	logger *slog.Logger
}

var _ ports.VaultExporter = (*Exporter)(nil)

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Export writes one note per entity into dir, overwriting notes of the same name.
func (x *Exporter) Export(ctx context.Context, dir string, snapshot graph.Snapshot) (ports.VaultExportResult, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return ports.VaultExportResult{}, coreerrors.New(coreerrors.CodeValidationError, "vault directory must not be empty")
	}

	names := noteNames(snapshot.Entities)
	outgoing := make(map[string][]graph.Connection)
	incoming := make(map[string][]graph.Connection)
	for _, c := range snapshot.Connections {
		outgoing[c.From] = append(outgoing[c.From], c)
		incoming[c.To] = append(incoming[c.To], c)
	}

	result := ports.VaultExportResult{Dir: dir}
	for _, e := range snapshot.Entities {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		note, err := renderNote(e, outgoing[e.ID], incoming[e.ID], names)
		if err != nil {
			return result, err
		}
		path := filepath.Join(dir, names[e.ID]+".md")
		if err := util.WriteFileWithDirs(path, note, 0o644); err != nil {
			return result, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeInternal, "write vault note"),
				coreerrors.CtxPath, path,
			)
		}
		result.Written = append(result.Written, path)
	}

	x.logger.Info("vault exported", "dir", dir, "notes", len(result.Written))
	return result, nil
}

// noteNames assigns each entity a unique file stem; later duplicates get an id suffix.
func noteNames(entities []graph.Entity) map[string]string {
	sorted := append([]graph.Entity(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	names := make(map[string]string, len(sorted))
	taken := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		stem := util.SafeFileName(e.Label())
		if taken[strings.ToLower(stem)] {
			suffix := e.ID
			if len(suffix) > 8 {
				suffix = suffix[:8]
			}
			stem = stem + "-" + util.SafeFileName(suffix)
		}
		taken[strings.ToLower(stem)] = true
		names[e.ID] = stem
	}
	return names
}

func renderNote(e graph.Entity, out, in []graph.Connection, names map[string]string) ([]byte, error) {
	fm, err := yaml.Marshal(frontmatter{
		ID:         e.ID,
		Type:       e.Type,
		Position:   e.Position,
		Properties: e.Properties,
		Created:    e.CreatedAt,
		Updated:    e.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter for %s: %w", e.ID, err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n", e.Label())

	if len(out) > 0 || len(in) > 0 {
		b.WriteString("\n## Connections\n\n")
		for _, c := range sortConnections(out, names, func(c graph.Connection) string { return c.To }) {
			fmt.Fprintf(&b, "- %s [[%s]]\n", labelOr(c.Label, "related to"), names[c.To])
		}
		for _, c := range sortConnections(in, names, func(c graph.Connection) string { return c.From }) {
			fmt.Fprintf(&b, "- [[%s]] %s this\n", names[c.From], labelOr(c.Label, "related to"))
		}
	}
	return b.Bytes(), nil
}

func sortConnections(conns []graph.Connection, names map[string]string, other func(graph.Connection) string) []graph.Connection {
	out := append([]graph.Connection(nil), conns...)
	sort.Slice(out, func(i, j int) bool {
		a, b := names[other(out[i])], names[other(out[j])]
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func labelOr(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
}
