package graph

import (
	"maps"
	"time"
)

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Entity is a node in the graph: a person, organization, location and so on.
type Entity struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	Position   Position          `json:"position"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Connection is a directed, labeled edge between two entities.
type Connection struct {
	ID         string            `json:"id"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Snapshot is a full copy of a graph, as loaded from or written to a store.
type Snapshot struct {
	Entities    []Entity
	Connections []Connection
}

// Clone returns a deep copy so history payloads never alias live state.
func (e Entity) Clone() Entity {
	e.Properties = cloneProperties(e.Properties)
	return e
}

func (c Connection) Clone() Connection {
	c.Properties = cloneProperties(c.Properties)
	return c
}

// WithProperty returns a copy with key set to value.
func (e Entity) WithProperty(key, value string) Entity {
	out := e.Clone()
	if out.Properties == nil {
		out.Properties = make(map[string]string)
	}
	out.Properties[key] = value
	return out
}

// WithoutProperty returns a copy without key.
func (e Entity) WithoutProperty(key string) Entity {
	out := e.Clone()
	delete(out.Properties, key)
	return out
}

// Label returns the display name, falling back to the id.
func (e Entity) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// ClonePositions copies a position map.
func ClonePositions(in map[string]Position) map[string]Position {
	if in == nil {
		return nil
	}
	out := make(map[string]Position, len(in))
	maps.Copy(out, in)
	return out
}

func cloneProperties(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}
