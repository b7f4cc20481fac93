package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"graphedit/internal/engine/graph"
)

// Entry is one recorded, reversible operation.
type Entry struct {
	ID          string
	Kind        Kind
	Description string
	Timestamp   time.Time
	Op          Operation
}

// Summary is the read-only view of an Entry handed to menus and history panels.
type Summary struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e Entry) Summary() Summary {
	return Summary{
		ID:          e.ID,
		Kind:        e.Kind,
		Description: e.Description,
		Timestamp:   e.Timestamp,
	}
}

func summaries(entries []Entry) []Summary {
	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = e.Summary()
	}
	return out
}

// Direction is the way a step moves through the timeline.
type Direction string

const (
	DirectionUndo Direction = "undo"
	DirectionRedo Direction = "redo"
)

func describeEntity(verb string, e graph.Entity) string {
	return fmt.Sprintf("%s entity %s", verb, e.Label())
}

func describeConnection(verb string, c graph.Connection) string {
	label := c.Label
	if label == "" {
		label = "related to"
	}
	return fmt.Sprintf("%s relationship %s -[%s]-> %s", verb, c.From, label, c.To)
}

func describeMove(after map[string]graph.Position) string {
	if len(after) == 1 {
		for id := range after {
			return fmt.Sprintf("Moved node %s", id)
		}
	}
	ids := make([]string, 0, len(after))
	for id := range after {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 3 {
		ids = append(ids[:3], "...")
	}
	return fmt.Sprintf("Moved %d nodes (%s)", len(after), strings.Join(ids, ", "))
}
