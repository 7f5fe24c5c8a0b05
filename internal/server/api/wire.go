package api

import (
	"encoding/json"
	"fmt"

	"github.com/topograph/topograph/pkg/types"
)

// endpointJSON is an identifier reference in a publish request. An absent
// meta field keeps the identifier's metadata unchanged; "delete": true
// removes the identifier.
type endpointJSON struct {
	ID     string           `json:"id"`
	Meta   *json.RawMessage `json:"meta,omitempty"`
	Delete bool             `json:"delete,omitempty"`
}

func (e endpointJSON) update() (types.Update, error) {
	if e.Delete {
		return types.Delete(), nil
	}
	if e.Meta == nil {
		return types.Keep(), nil
	}
	var v any
	if err := json.Unmarshal(*e.Meta, &v); err != nil {
		return types.Update{}, fmt.Errorf("%w: %v", types.ErrMalformedEntry, err)
	}
	return types.Set(v), nil
}

func (e endpointJSON) endpoint() (types.Endpoint, error) {
	u, err := e.update()
	if err != nil {
		return types.Endpoint{}, err
	}
	return types.Endpoint{ID: e.ID, Meta: u}, nil
}

type linkJSON struct {
	A      endpointJSON     `json:"a"`
	B      endpointJSON     `json:"b"`
	Meta   *json.RawMessage `json:"meta,omitempty"`
	Delete bool             `json:"delete,omitempty"`
}

type entryJSON struct {
	Identifier *endpointJSON `json:"identifier,omitempty"`
	Link       *linkJSON     `json:"link,omitempty"`
}

func (e entryJSON) entry() (types.Entry, error) {
	switch {
	case e.Identifier != nil:
		u, err := e.Identifier.update()
		if err != nil {
			return types.Entry{}, err
		}
		return types.IdentifierEntry(e.Identifier.ID, u), nil
	case e.Link != nil:
		a, err := e.Link.A.endpoint()
		if err != nil {
			return types.Entry{}, err
		}
		b, err := e.Link.B.endpoint()
		if err != nil {
			return types.Entry{}, err
		}
		meta := endpointJSON{Meta: e.Link.Meta, Delete: e.Link.Delete}
		u, err := meta.update()
		if err != nil {
			return types.Entry{}, err
		}
		return types.LinkEntry(a, b, u), nil
	}
	return types.Entry{}, fmt.Errorf("%w: empty entry", types.ErrMalformedEntry)
}

type publishRequest struct {
	Entries     []entryJSON `json:"entries"`
	Persistence string      `json:"persistence,omitempty"`
}

func (r publishRequest) options() (types.PublishOptions, error) {
	switch r.Persistence {
	case "", "message":
		return types.PublishOptions{Persistence: types.Message}, nil
	case "persistent":
		return types.PublishOptions{Persistence: types.Persistent}, nil
	}
	return types.PublishOptions{}, fmt.Errorf("%w: unknown persistence %q", types.ErrMalformedEntry, r.Persistence)
}

type searchParams struct {
	Start    string `json:"start"`
	Order    string `json:"order,omitempty"`
	MaxDepth int    `json:"max_depth,omitempty"`
	Loop     string `json:"loop,omitempty"`
}

func (p searchParams) options() (types.SearchOptions, error) {
	opts := types.SearchOptions{MaxDepth: p.MaxDepth}
	switch p.Order {
	case "", "breadth":
	case "depth":
		opts.Order = types.Depth
	default:
		return opts, fmt.Errorf("%w: unknown order %q", types.ErrMalformedEntry, p.Order)
	}
	switch p.Loop {
	case "", "identifier":
	case "link":
		opts.Loop = types.LoopLink
	case "none":
		opts.Loop = types.LoopNone
	default:
		return opts, fmt.Errorf("%w: unknown loop detection %q", types.ErrMalformedEntry, p.Loop)
	}
	return opts, nil
}

// visitedNode is one identifier collected by the server-side step function.
type visitedNode struct {
	ID    string      `json:"id"`
	Meta  types.Value `json:"meta"`
	Depth int         `json:"depth"`
}

// collectStep gathers every visited identifier with its metadata and
// distance from the start. The transport cannot carry caller closures, so
// this is the step function the HTTP surface folds with.
func collectStep(node types.Node, path []types.Node, acc any) (types.Control, any) {
	visited := acc.([]visitedNode)
	return types.Continue, append(visited, visitedNode{
		ID:    node.Identifier,
		Meta:  node.Meta,
		Depth: len(path),
	})
}

type searchResponse struct {
	Results []visitedNode `json:"results"`
}

type subscribeRequest struct {
	searchParams
	Trigger   []string `json:"trigger,omitempty"`
	Webhook   string   `json:"webhook,omitempty"`
	WebSocket bool     `json:"websocket,omitempty"`
}

func (r subscribeRequest) trigger() (types.Trigger, error) {
	var t types.Trigger
	for _, name := range r.Trigger {
		switch name {
		case "persistent":
			t |= types.TriggerPersistent
		case "message":
			t |= types.TriggerMessage
		default:
			return 0, fmt.Errorf("%w: unknown trigger class %q", types.ErrMalformedEntry, name)
		}
	}
	return t, nil
}

type subscribeResponse struct {
	ID string `json:"id"`
}

type identifierResponse struct {
	ID        string      `json:"id"`
	Meta      types.Value `json:"meta"`
	Neighbors []string    `json:"neighbors"`
}

type graphResponse struct {
	Identifiers []identifierDump `json:"identifiers"`
	Links       []linkDump       `json:"links"`
}

type identifierDump struct {
	ID   string      `json:"id"`
	Meta types.Value `json:"meta"`
}

type linkDump struct {
	A    string      `json:"a"`
	B    string      `json:"b"`
	Meta types.Value `json:"meta"`
}

type errorResponse struct {
	Error string `json:"error"`
}
