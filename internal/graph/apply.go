package graph

import (
	"fmt"

	"github.com/topograph/topograph/pkg/types"
)

// Apply validates a publish batch against base and, if valid, returns the
// snapshot with the whole batch applied plus the resulting change set. base
// is never modified: on any error the returned snapshot is nil and the graph
// is unchanged.
//
// Message-class batches (persistent == false) require every referenced
// identifier and link to already exist. Persistent batches create missing
// entities on demand with nil metadata. Identifier mutations apply before
// link mutations, in batch order.
func Apply(base *Snapshot, entries []types.Entry, persistent bool) (*Snapshot, *ChangeSet, error) {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if persistent {
			continue
		}
		if err := validateMessageEntry(base, e); err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	b := newBuilder(base)

	for _, e := range entries {
		if e.Identifier == nil {
			continue
		}
		if err := applyIdentifier(b, *e.Identifier, persistent); err != nil {
			return nil, nil, err
		}
	}
	for _, e := range entries {
		if e.Link == nil {
			continue
		}
		if err := applyLink(b, *e.Link, persistent); err != nil {
			return nil, nil, err
		}
	}

	return b.snap, &b.changeSet, nil
}

func validateMessageEntry(base *Snapshot, e types.Entry) error {
	if e.Identifier != nil {
		if !base.HasIdentifier(e.Identifier.ID) {
			return fmt.Errorf("identifier %q: %w", e.Identifier.ID, types.ErrNotFound)
		}
		return nil
	}
	l := e.Link
	for _, ep := range []types.Endpoint{l.A, l.B} {
		if !base.HasIdentifier(ep.ID) {
			return fmt.Errorf("identifier %q: %w", ep.ID, types.ErrNotFound)
		}
	}
	if _, ok := base.Link(l.A.ID, l.B.ID); !ok {
		return fmt.Errorf("link %q-%q: %w", l.A.ID, l.B.ID, types.ErrNotFound)
	}
	return nil
}

func applyIdentifier(b *builder, ep types.Endpoint, persistent bool) error {
	if ep.Meta.IsDelete() {
		b.deleteIdentifier(ep.ID)
		return nil
	}
	return applyEndpoint(b, ep, persistent)
}

// applyEndpoint resolves an endpoint's metadata update against the draft
// snapshot, creating the identifier when a persistent batch references one
// that does not exist yet.
func applyEndpoint(b *builder, ep types.Endpoint, persistent bool) error {
	current, exists := b.snap.identifiers[ep.ID]
	if !exists && !persistent {
		// Unreachable for validated message batches; guards link
		// entries that reference identifiers deleted earlier in the
		// same batch.
		return fmt.Errorf("identifier %q: %w", ep.ID, types.ErrNotFound)
	}
	if exists && ep.Meta.IsKeep() {
		return nil
	}
	meta, err := ep.Meta.Resolve(current)
	if err != nil {
		return fmt.Errorf("identifier %q: %w", ep.ID, err)
	}
	b.setIdentifier(ep.ID, meta)
	return nil
}

func applyLink(b *builder, l types.LinkSpec, persistent bool) error {
	if err := applyEndpoint(b, l.A, persistent); err != nil {
		return err
	}
	if err := applyEndpoint(b, l.B, persistent); err != nil {
		return err
	}

	if l.Meta.IsDelete() {
		b.deleteLink(l.A.ID, l.B.ID)
		return nil
	}

	current, exists := b.snap.links[KeyFor(l.A.ID, l.B.ID)]
	if !exists && !persistent {
		return fmt.Errorf("link %q-%q: %w", l.A.ID, l.B.ID, types.ErrNotFound)
	}
	if exists && l.Meta.IsKeep() {
		return nil
	}
	meta, err := l.Meta.Resolve(current)
	if err != nil {
		return fmt.Errorf("link %q-%q: %w", l.A.ID, l.B.ID, err)
	}
	b.setLink(l.A.ID, l.B.ID, meta)
	return nil
}
