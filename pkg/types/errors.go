package types

import "errors"

var (
	// ErrNotFound marks a missing start identifier for search/subscribe, or a
	// missing identifier/link referenced by a message-class publish.
	ErrNotFound = errors.New("not found")

	// ErrMalformedEntry marks a publish entry whose shape or metadata value
	// is invalid.
	ErrMalformedEntry = errors.New("malformed entry")

	// ErrUnavailable marks a failure to reach the graph owner or its durable
	// record store.
	ErrUnavailable = errors.New("unavailable")
)
