package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/shared/observability"
)

// Graph is the live, in-memory entity/connection set the editor renders from.
type Graph struct {
	mu sync.RWMutex

	entities    map[string]Entity
	connections map[string]Connection

	// Relationships
	outgoing map[string]map[string]bool // entity -> connection ids
	incoming map[string]map[string]bool // entity -> connection ids
}

func NewGraph() *Graph {
	return &Graph{
		entities:    make(map[string]Entity),
		connections: make(map[string]Connection),
		outgoing:    make(map[string]map[string]bool),
		incoming:    make(map[string]map[string]bool),
	}
}

// Load replaces the graph contents with snapshot.
func (g *Graph) Load(snapshot Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entities = make(map[string]Entity, len(snapshot.Entities))
	g.connections = make(map[string]Connection, len(snapshot.Connections))
	g.outgoing = make(map[string]map[string]bool)
	g.incoming = make(map[string]map[string]bool)

	for _, e := range snapshot.Entities {
		g.entities[e.ID] = e.Clone()
	}
	for _, c := range snapshot.Connections {
		if err := g.putConnectionLocked(c); err != nil {
			return err
		}
	}
	g.updateGaugesLocked()
	return nil
}

// PutEntity inserts or replaces an entity.
func (g *Graph) PutEntity(e Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return coreerrors.New(coreerrors.CodeValidationError, "entity id must not be empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[e.ID] = e.Clone()
	g.updateGaugesLocked()
	return nil
}

// RemoveEntity deletes an entity. Connections touching it must be removed first.
func (g *Graph) RemoveEntity(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[id]; !ok {
		return coreerrors.AddContext(coreerrors.New(coreerrors.CodeNotFound, "entity not found"), coreerrors.CtxEntity, id)
	}
	if n := len(g.outgoing[id]) + len(g.incoming[id]); n > 0 {
		return coreerrors.Newf(coreerrors.CodeConflict, "entity %s still has %d connections", id, n)
	}
	delete(g.entities, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
	g.updateGaugesLocked()
	return nil
}

func (g *Graph) Entity(id string) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.Clone(), true
}

// FindEntity resolves an entity by id, then by case-insensitive name.
func (g *Graph) FindEntity(ref string) (Entity, bool) {
	if e, ok := g.Entity(ref); ok {
		return e, true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.sortedEntitiesLocked() {
		if strings.EqualFold(e.Name, ref) {
			return e.Clone(), true
		}
	}
	return Entity{}, false
}

// Entities returns all entities ordered by name then id.
func (g *Graph) Entities() []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := g.sortedEntitiesLocked()
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

func (g *Graph) sortedEntitiesLocked() []Entity {
	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// PutConnection inserts or replaces a connection. Both endpoints must exist.
func (g *Graph) PutConnection(c Connection) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.putConnectionLocked(c); err != nil {
		return err
	}
	g.updateGaugesLocked()
	return nil
}

func (g *Graph) putConnectionLocked(c Connection) error {
	if strings.TrimSpace(c.ID) == "" {
		return coreerrors.New(coreerrors.CodeValidationError, "connection id must not be empty")
	}
	for _, end := range []string{c.From, c.To} {
		if _, ok := g.entities[end]; !ok {
			return coreerrors.AddContext(
				coreerrors.New(coreerrors.CodeNotFound, fmt.Sprintf("connection %s references unknown entity", c.ID)),
				coreerrors.CtxEntity, end,
			)
		}
	}
	if prev, ok := g.connections[c.ID]; ok {
		g.unlinkLocked(prev)
	}
	g.connections[c.ID] = c.Clone()
	link(g.outgoing, c.From, c.ID)
	link(g.incoming, c.To, c.ID)
	return nil
}

func (g *Graph) RemoveConnection(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.connections[id]
	if !ok {
		return coreerrors.AddContext(coreerrors.New(coreerrors.CodeNotFound, "connection not found"), coreerrors.CtxEntity, id)
	}
	g.unlinkLocked(c)
	delete(g.connections, id)
	g.updateGaugesLocked()
	return nil
}

func (g *Graph) unlinkLocked(c Connection) {
	delete(g.outgoing[c.From], c.ID)
	delete(g.incoming[c.To], c.ID)
}

func (g *Graph) Connection(id string) (Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.connections[id]
	if !ok {
		return Connection{}, false
	}
	return c.Clone(), true
}

// Connections returns all connections ordered by id.
func (g *Graph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Connection, 0, len(g.connections))
	for _, c := range g.connections {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectionsOf returns every connection with entityID at either end, ordered by id.
func (g *Graph) ConnectionsOf(entityID string) []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make(map[string]bool)
	for id := range g.outgoing[entityID] {
		ids[id] = true
	}
	for id := range g.incoming[entityID] {
		ids[id] = true
	}
	out := make([]Connection, 0, len(ids))
	for id := range ids {
		out = append(out, g.connections[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Positions returns the positions of the given entities; unknown ids are skipped.
func (g *Graph) Positions(ids ...string) map[string]Position {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Position, len(ids))
	for _, id := range ids {
		if e, ok := g.entities[id]; ok {
			out[id] = e.Position
		}
	}
	return out
}

// SetPositions moves entities. It fails without moving anything if an id is unknown.
func (g *Graph) SetPositions(positions map[string]Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range positions {
		if _, ok := g.entities[id]; !ok {
			return coreerrors.AddContext(coreerrors.New(coreerrors.CodeNotFound, "entity not found"), coreerrors.CtxEntity, id)
		}
	}
	for id, pos := range positions {
		e := g.entities[id]
		e.Position = pos
		g.entities[id] = e
	}
	return nil
}

// Counts returns the number of entities and connections.
func (g *Graph) Counts() (entities, connections int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities), len(g.connections)
}

// Snapshot copies the full graph.
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{Entities: g.Entities(), Connections: g.Connections()}
}

func (g *Graph) updateGaugesLocked() {
	observability.GraphEntities.Set(float64(len(g.entities)))
	observability.GraphConnections.Set(float64(len(g.connections)))
}

func link(index map[string]map[string]bool, entityID, connectionID string) {
	set, ok := index[entityID]
	if !ok {
		set = make(map[string]bool)
		index[entityID] = set
	}
	set[connectionID] = true
}
