package types

import "fmt"

// Endpoint names an identifier within a publish entry, optionally carrying a
// metadata update for it. A bare endpoint (zero Meta) leaves the identifier's
// metadata untouched.
type Endpoint struct {
	ID   string
	Meta Update
}

// LinkSpec describes a mutation of the unordered link between A and B.
type LinkSpec struct {
	A    Endpoint
	B    Endpoint
	Meta Update
}

// Entry is one element of a publish batch: either an identifier mutation or
// a link mutation, never both.
type Entry struct {
	Identifier *Endpoint
	Link       *LinkSpec
}

// IdentifierEntry builds an identifier mutation.
func IdentifierEntry(id string, meta Update) Entry {
	return Entry{Identifier: &Endpoint{ID: id, Meta: meta}}
}

// LinkEntry builds a link mutation between two endpoints.
func LinkEntry(a, b Endpoint, meta Update) Entry {
	return Entry{Link: &LinkSpec{A: a, B: b, Meta: meta}}
}

// Validate checks the entry's shape without consulting the graph.
func (e Entry) Validate() error {
	switch {
	case e.Identifier != nil && e.Link != nil:
		return fmt.Errorf("%w: entry is both identifier and link", ErrMalformedEntry)
	case e.Identifier != nil:
		if e.Identifier.ID == "" {
			return fmt.Errorf("%w: empty identifier", ErrMalformedEntry)
		}
	case e.Link != nil:
		l := e.Link
		if l.A.ID == "" || l.B.ID == "" {
			return fmt.Errorf("%w: link endpoint missing identifier", ErrMalformedEntry)
		}
		if l.A.ID == l.B.ID {
			return fmt.Errorf("%w: link endpoints must differ (%s)", ErrMalformedEntry, l.A.ID)
		}
		// Deleting an endpoint as a side effect of a link mutation is
		// ambiguous; require a separate identifier entry for that.
		if l.A.Meta.IsDelete() || l.B.Meta.IsDelete() {
			return fmt.Errorf("%w: link endpoint cannot carry a delete", ErrMalformedEntry)
		}
	default:
		return fmt.Errorf("%w: empty entry", ErrMalformedEntry)
	}
	return nil
}

// Persistence selects whether a publish batch is durably recorded
// (Persistent) or treated as an ephemeral notification (Message, the
// default). Both mutate the in-memory graph identically.
type Persistence int

const (
	Message Persistence = iota
	Persistent
)

func (p Persistence) String() string {
	if p == Persistent {
		return "persistent"
	}
	return "message"
}

// PublishOptions configures a publish batch.
type PublishOptions struct {
	Persistence Persistence
}
