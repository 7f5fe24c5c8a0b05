// Package traverse implements the fold-based search over a graph snapshot:
// a caller-supplied step function visits identifiers reachable from a start
// identifier in breadth or depth order, bounded by a hop limit and loop
// detection, steering the walk and accumulating its result.
package traverse

import (
	"fmt"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/pkg/types"
)

// Result carries the final accumulator and the set of identifiers the step
// function saw (start included). The touched set drives the subscription
// manager's relevance filter.
type Result struct {
	Acc     any
	Touched map[string]struct{}
}

// visit is one pending traversal step. The parent chain doubles as the path
// back to the start; chains are shared between siblings, never mutated.
type visit struct {
	id       string
	linkMeta types.Value
	depth    int
	parent   *visit
}

type directedLink struct {
	from, to string
}

// Run folds step over the identifiers reachable from start in snap. The step
// function is invoked for the start identifier itself (empty path, nil link
// metadata) and then for every identifier reached within opts.MaxDepth hops,
// subject to loop detection. A missing start yields ErrNotFound. A panic in
// the step function aborts the search and is returned as an error.
func Run(snap *graph.Snapshot, step types.StepFunc, acc any, start string, opts types.SearchOptions) (Result, error) {
	res := Result{Acc: acc, Touched: make(map[string]struct{})}
	if !snap.HasIdentifier(start) {
		return res, fmt.Errorf("start identifier %q: %w", start, types.ErrNotFound)
	}

	var (
		seen  map[string]struct{}
		used  map[directedLink]struct{}
		queue = []*visit{{id: start}}
	)
	switch opts.Loop {
	case types.LoopIdentifier:
		seen = map[string]struct{}{start: {}}
	case types.LoopLink:
		used = make(map[directedLink]struct{})
	}

	for len(queue) > 0 {
		var cur *visit
		if opts.Order == types.Depth {
			cur = queue[len(queue)-1]
			queue = queue[:len(queue)-1]
		} else {
			cur = queue[0]
			queue = queue[1:]
		}

		meta, ok := snap.Identifier(cur.id)
		if !ok {
			continue
		}
		res.Touched[cur.id] = struct{}{}

		ctrl, next, err := callStep(step, types.Node{Identifier: cur.id, Meta: meta, LinkMeta: cur.linkMeta}, pathOf(snap, cur), res.Acc)
		if err != nil {
			return res, err
		}
		res.Acc = next
		switch ctrl {
		case types.Stop:
			return res, nil
		case types.Skip:
			continue
		}

		if cur.depth >= opts.MaxDepth {
			continue
		}
		neighbors := snap.Neighbors(cur.id)
		if opts.Order == types.Depth {
			// Popping from the tail reverses the order; push high
			// to low so the lexicographically first neighbor is
			// explored first.
			for i := len(neighbors) - 1; i >= 0; i-- {
				queue = enqueue(snap, queue, cur, neighbors[i], seen, used)
			}
		} else {
			for _, n := range neighbors {
				queue = enqueue(snap, queue, cur, n, seen, used)
			}
		}
	}
	return res, nil
}

func enqueue(snap *graph.Snapshot, queue []*visit, cur *visit, neighbor string, seen map[string]struct{}, used map[directedLink]struct{}) []*visit {
	switch {
	case seen != nil:
		if _, ok := seen[neighbor]; ok {
			return queue
		}
		seen[neighbor] = struct{}{}
	case used != nil:
		dl := directedLink{from: cur.id, to: neighbor}
		if _, ok := used[dl]; ok {
			return queue
		}
		used[dl] = struct{}{}
	}
	linkMeta, _ := snap.Link(cur.id, neighbor)
	return append(queue, &visit{id: neighbor, linkMeta: linkMeta, depth: cur.depth + 1, parent: cur})
}

// pathOf builds the path for a visit: nearest ancestor first, ending at the
// start identifier, the visited identifier itself excluded.
func pathOf(snap *graph.Snapshot, cur *visit) []types.Node {
	if cur.parent == nil {
		return nil
	}
	path := make([]types.Node, 0, cur.depth)
	for p := cur.parent; p != nil; p = p.parent {
		meta, _ := snap.Identifier(p.id)
		path = append(path, types.Node{Identifier: p.id, Meta: meta, LinkMeta: p.linkMeta})
	}
	return path
}

func callStep(step types.StepFunc, node types.Node, path []types.Node, acc any) (ctrl types.Control, next any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step function panicked at %q: %v", node.Identifier, r)
		}
	}()
	ctrl, next = step(node, path, acc)
	return ctrl, next, nil
}
