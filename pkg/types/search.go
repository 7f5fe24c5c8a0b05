package types

// Order selects the traversal order of a search.
type Order int

const (
	Breadth Order = iota
	Depth
)

// LoopDetection bounds how often a search may revisit parts of the graph.
type LoopDetection int

const (
	// LoopIdentifier visits each identifier at most once for the whole
	// search, first discovery wins. The default.
	LoopIdentifier LoopDetection = iota
	// LoopLink traverses each link at most once in each direction of use;
	// an identifier may still be reached through distinct links.
	LoopLink
	// LoopNone imposes no constraint. Without a reachability-bounded
	// MaxDepth the search may not terminate.
	LoopNone
)

// SearchOptions configures a search or the standing search of a
// subscription. The zero value means breadth order, identifier loop
// detection and no navigation beyond the start identifier.
type SearchOptions struct {
	Order    Order
	MaxDepth int
	Loop     LoopDetection
}

// Control steers the traversal from a step function.
type Control int

const (
	// Continue accepts the new accumulator and navigates this
	// identifier's neighbors.
	Continue Control = iota
	// Skip accepts the new accumulator but does not navigate this
	// identifier's neighbors; the search continues elsewhere.
	Skip
	// Stop accepts the new accumulator and terminates the whole search.
	Stop
)

// Node is one visited identifier as seen by a step function: its metadata
// and the metadata of the link the traversal arrived through. LinkMeta is
// nil for the start identifier.
type Node struct {
	Identifier string
	Meta       Value
	LinkMeta   Value
}

// StepFunc folds over the identifiers a search visits. path holds the nodes
// from the immediate neighbor that led here back to the start identifier,
// nearest first, the current identifier excluded.
type StepFunc func(node Node, path []Node, acc any) (Control, any)
