// Package record is the durable collaborator of the graph owner: a store of
// committed identifier and link records. Only persistent-class publishes
// reach it; message-class mutations stay in memory.
package record

import (
	"context"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/pkg/types"
)

// LinkRecord is one durable link row. A and B are stored in canonical
// (lexicographic) order.
type LinkRecord struct {
	A    string
	B    string
	Meta types.Value
}

// Contents is everything a store holds, used to warm-start the in-memory
// graph.
type Contents struct {
	Identifiers map[string]types.Value
	Links       []LinkRecord
}

// Store records committed change sets. Apply is atomic: either the whole
// change set is durably recorded or none of it, so a failed publish leaves
// nothing behind for a restart to replay.
type Store interface {
	Apply(ctx context.Context, changes *graph.ChangeSet) error
	LoadAll(ctx context.Context) (*Contents, error)
	Close(ctx context.Context) error
}

// Discard returns a Store that retains nothing, for purely in-memory
// operation.
func Discard() Store { return discard{} }

type discard struct{}

func (discard) Apply(context.Context, *graph.ChangeSet) error { return nil }
func (discard) LoadAll(context.Context) (*Contents, error) {
	return &Contents{Identifiers: map[string]types.Value{}}, nil
}
func (discard) Close(context.Context) error { return nil }
