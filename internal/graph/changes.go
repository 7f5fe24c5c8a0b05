package graph

import "github.com/topograph/topograph/pkg/types"

// ChangeKind classifies one entity change within a committed batch.
type ChangeKind int

const (
	Created ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "deleted"
	}
}

// IdentifierChange records one identifier mutation. Meta is the stored
// metadata after the change; nil for deletions.
type IdentifierChange struct {
	ID   string
	Kind ChangeKind
	Meta types.Value
}

// LinkChange records one link mutation.
type LinkChange struct {
	Key  LinkKey
	Kind ChangeKind
	Meta types.Value
}

// ChangeSet lists everything a committed batch touched, in application
// order. It feeds the durable record store and the subscription manager's
// coarse relevance filter.
type ChangeSet struct {
	Identifiers []IdentifierChange
	Links       []LinkChange
}

// Empty reports whether the batch changed nothing.
func (c *ChangeSet) Empty() bool {
	return len(c.Identifiers) == 0 && len(c.Links) == 0
}

// Touched returns the set of identifiers affected by the batch, link
// endpoints included. Subscriptions whose last traversal visited none of
// these cannot have changed results.
func (c *ChangeSet) Touched() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Identifiers)+2*len(c.Links))
	for _, ic := range c.Identifiers {
		out[ic.ID] = struct{}{}
	}
	for _, lc := range c.Links {
		out[lc.Key.A] = struct{}{}
		out[lc.Key.B] = struct{}{}
	}
	return out
}
