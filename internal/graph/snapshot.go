// Package graph holds the in-memory identifier/link graph. The graph is a
// chain of immutable snapshots: Apply builds a new snapshot from the current
// one without touching it, so readers hold a consistent view for as long as
// they keep the pointer while the owner moves on to the next version.
package graph

import (
	"maps"
	"sort"

	"github.com/topograph/topograph/pkg/types"
)

// LinkKey is the canonical key of an unordered identifier pair.
type LinkKey struct {
	A, B string
}

// KeyFor builds the canonical key for the link between x and y.
func KeyFor(x, y string) LinkKey {
	if x <= y {
		return LinkKey{A: x, B: y}
	}
	return LinkKey{A: y, B: x}
}

// Snapshot is an immutable point-in-time view of the graph. Metadata values
// inside a snapshot are canonical (normalized) and must not be mutated by
// readers.
type Snapshot struct {
	version     uint64
	identifiers map[string]types.Value
	links       map[LinkKey]types.Value
	adjacency   map[string]map[string]struct{}
}

// Empty returns the snapshot of an empty graph.
func Empty() *Snapshot {
	return &Snapshot{
		identifiers: make(map[string]types.Value),
		links:       make(map[LinkKey]types.Value),
		adjacency:   make(map[string]map[string]struct{}),
	}
}

// Version is a monotonically increasing mutation counter.
func (s *Snapshot) Version() uint64 { return s.version }

// HasIdentifier reports whether id exists in this snapshot.
func (s *Snapshot) HasIdentifier(id string) bool {
	_, ok := s.identifiers[id]
	return ok
}

// Identifier returns id's metadata and whether it exists.
func (s *Snapshot) Identifier(id string) (types.Value, bool) {
	v, ok := s.identifiers[id]
	return v, ok
}

// Link returns the metadata of the link between a and b and whether that
// link exists.
func (s *Snapshot) Link(a, b string) (types.Value, bool) {
	v, ok := s.links[KeyFor(a, b)]
	return v, ok
}

// Neighbors returns the identifiers linked to id in lexicographic order.
// Traversal and the API rely on this order being deterministic.
func (s *Snapshot) Neighbors(id string) []string {
	set := s.adjacency[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IdentifierCount returns the number of identifiers in the snapshot.
func (s *Snapshot) IdentifierCount() int { return len(s.identifiers) }

// LinkCount returns the number of links in the snapshot.
func (s *Snapshot) LinkCount() int { return len(s.links) }

// Identifiers returns all identifiers in lexicographic order.
func (s *Snapshot) Identifiers() []string {
	out := make([]string, 0, len(s.identifiers))
	for id := range s.identifiers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Links returns all link keys in lexicographic order.
func (s *Snapshot) Links() []LinkKey {
	out := make([]LinkKey, 0, len(s.links))
	for k := range s.links {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// builder is a snapshot under construction. Top-level maps are cloned up
// front; adjacency sets are cloned lazily, only for identifiers the batch
// touches.
type builder struct {
	snap      *Snapshot
	ownedAdj  map[string]bool
	changeSet ChangeSet
}

func newBuilder(base *Snapshot) *builder {
	return &builder{
		snap: &Snapshot{
			version:     base.version + 1,
			identifiers: maps.Clone(base.identifiers),
			links:       maps.Clone(base.links),
			adjacency:   maps.Clone(base.adjacency),
		},
		ownedAdj: make(map[string]bool),
	}
}

func (b *builder) adj(id string) map[string]struct{} {
	set, ok := b.snap.adjacency[id]
	if !ok {
		set = make(map[string]struct{})
		b.snap.adjacency[id] = set
		b.ownedAdj[id] = true
		return set
	}
	if !b.ownedAdj[id] {
		set = maps.Clone(set)
		b.snap.adjacency[id] = set
		b.ownedAdj[id] = true
	}
	return set
}

func (b *builder) setIdentifier(id string, meta types.Value) {
	kind := Updated
	if _, exists := b.snap.identifiers[id]; !exists {
		kind = Created
	}
	b.snap.identifiers[id] = meta
	b.changeSet.Identifiers = append(b.changeSet.Identifiers, IdentifierChange{ID: id, Kind: kind, Meta: meta})
}

// deleteIdentifier removes id and cascades to every link touching it.
func (b *builder) deleteIdentifier(id string) {
	if _, exists := b.snap.identifiers[id]; !exists {
		return
	}
	for neighbor := range b.snap.adjacency[id] {
		key := KeyFor(id, neighbor)
		delete(b.snap.links, key)
		delete(b.adj(neighbor), id)
		b.changeSet.Links = append(b.changeSet.Links, LinkChange{Key: key, Kind: Deleted})
	}
	delete(b.snap.adjacency, id)
	delete(b.ownedAdj, id)
	delete(b.snap.identifiers, id)
	b.changeSet.Identifiers = append(b.changeSet.Identifiers, IdentifierChange{ID: id, Kind: Deleted})
}

func (b *builder) setLink(a, b2 string, meta types.Value) {
	key := KeyFor(a, b2)
	kind := Updated
	if _, exists := b.snap.links[key]; !exists {
		kind = Created
	}
	b.snap.links[key] = meta
	b.adj(a)[b2] = struct{}{}
	b.adj(b2)[a] = struct{}{}
	b.changeSet.Links = append(b.changeSet.Links, LinkChange{Key: key, Kind: kind, Meta: meta})
}

func (b *builder) deleteLink(a, b2 string) {
	key := KeyFor(a, b2)
	if _, exists := b.snap.links[key]; !exists {
		return
	}
	delete(b.snap.links, key)
	delete(b.adj(a), b2)
	delete(b.adj(b2), a)
	b.changeSet.Links = append(b.changeSet.Links, LinkChange{Key: key, Kind: Deleted})
}
