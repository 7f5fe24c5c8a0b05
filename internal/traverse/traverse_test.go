package traverse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/pkg/types"
)

func snapWith(t *testing.T, entries ...types.Entry) *graph.Snapshot {
	t.Helper()
	snap, _, err := graph.Apply(graph.Empty(), entries, true)
	require.NoError(t, err)
	return snap
}

func link(a, b string) types.Entry {
	return types.LinkEntry(types.Endpoint{ID: a}, types.Endpoint{ID: b}, types.Keep())
}

// collect records the order identifiers were stepped in.
func collect(node types.Node, path []types.Node, acc any) (types.Control, any) {
	return types.Continue, append(acc.([]string), node.Identifier)
}

func runIDs(t *testing.T, snap *graph.Snapshot, start string, opts types.SearchOptions) []string {
	t.Helper()
	res, err := Run(snap, collect, []string{}, start, opts)
	require.NoError(t, err)
	return res.Acc.([]string)
}

func pathGraph(t *testing.T) *graph.Snapshot {
	return snapWith(t, link("a", "b"), link("b", "c"), link("c", "d"))
}

func TestMissingStart(t *testing.T) {
	_, err := Run(graph.Empty(), collect, []string{}, "ghost", types.SearchOptions{})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMaxDepthZeroVisitsOnlyStart(t *testing.T) {
	snap := snapWith(t, types.IdentifierEntry("a", types.Set(map[string]any{"x": 1})))

	var got types.Value
	step := func(node types.Node, path []types.Node, acc any) (types.Control, any) {
		got = node.Meta
		assert.Empty(t, path)
		assert.Nil(t, node.LinkMeta)
		return types.Continue, acc
	}
	_, err := Run(snap, step, nil, "a", types.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Value{"x": float64(1)}, got)
}

func TestMaxDepthBoundsTraversal(t *testing.T) {
	snap := pathGraph(t)

	assert.Equal(t, []string{"a", "b"},
		runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 1}))
	assert.Equal(t, []string{"a", "b", "c"},
		runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 2}))
	assert.Equal(t, []string{"a", "b", "c", "d"},
		runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 10}))
}

func TestBreadthVersusDepthOrder(t *testing.T) {
	// a-b, a-c, b-d: breadth processes the whole level before
	// descending, depth follows b down to d before visiting c.
	snap := snapWith(t, link("a", "b"), link("a", "c"), link("b", "d"))

	assert.Equal(t, []string{"a", "b", "c", "d"},
		runIDs(t, snap, "a", types.SearchOptions{Order: types.Breadth, MaxDepth: 5}))
	assert.Equal(t, []string{"a", "b", "d", "c"},
		runIDs(t, snap, "a", types.SearchOptions{Order: types.Depth, MaxDepth: 5}))
}

func TestIdentifierLoopDetection(t *testing.T) {
	snap := snapWith(t, link("a", "b"), link("b", "c"), link("c", "a"))

	ids := runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 50})
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestNoLoopDetectionRevisitsStart(t *testing.T) {
	snap := snapWith(t, link("a", "b"), link("b", "c"), link("c", "a"))

	ids := runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 3, Loop: types.LoopNone})
	revisits := 0
	for _, id := range ids[1:] {
		if id == "a" {
			revisits++
		}
	}
	assert.Greater(t, revisits, 0)
}

func TestLinkLoopDetectionAllowsDistinctRoutes(t *testing.T) {
	// Diamond a-b, a-c, b-d, c-d: d is reachable over two distinct
	// links, so link mode steps it twice where identifier mode steps it
	// once.
	snap := snapWith(t, link("a", "b"), link("a", "c"), link("b", "d"), link("c", "d"))

	count := func(ids []string, want string) int {
		n := 0
		for _, id := range ids {
			if id == want {
				n++
			}
		}
		return n
	}

	ids := runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 2, Loop: types.LoopLink})
	assert.Equal(t, 2, count(ids, "d"))

	ids = runIDs(t, snap, "a", types.SearchOptions{MaxDepth: 2})
	assert.Equal(t, 1, count(ids, "d"))
}

func TestSkipPrunesBranch(t *testing.T) {
	snap := pathGraph(t)

	step := func(node types.Node, path []types.Node, acc any) (types.Control, any) {
		ids := append(acc.([]string), node.Identifier)
		if node.Identifier == "b" {
			return types.Skip, ids
		}
		return types.Continue, ids
	}
	res, err := Run(snap, step, []string{}, "a", types.SearchOptions{MaxDepth: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Acc)
}

func TestStopTerminatesImmediately(t *testing.T) {
	snap := pathGraph(t)

	step := func(node types.Node, path []types.Node, acc any) (types.Control, any) {
		ids := append(acc.([]string), node.Identifier)
		if node.Identifier == "b" {
			return types.Stop, ids
		}
		return types.Continue, ids
	}
	res, err := Run(snap, step, []string{}, "a", types.SearchOptions{MaxDepth: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Acc)
}

func TestPathRunsNearestFirstBackToStart(t *testing.T) {
	snap := snapWith(t,
		types.LinkEntry(
			types.Endpoint{ID: "a", Meta: types.Set("ma")},
			types.Endpoint{ID: "b", Meta: types.Set("mb")},
			types.Set("ab")),
		types.LinkEntry(
			types.Endpoint{ID: "b"},
			types.Endpoint{ID: "c", Meta: types.Set("mc")},
			types.Set("bc")))

	var atC []types.Node
	var linkMetaAtC types.Value
	step := func(node types.Node, path []types.Node, acc any) (types.Control, any) {
		if node.Identifier == "c" {
			atC = path
			linkMetaAtC = node.LinkMeta
		}
		return types.Continue, acc
	}
	_, err := Run(snap, step, nil, "a", types.SearchOptions{MaxDepth: 2})
	require.NoError(t, err)

	require.Len(t, atC, 2)
	assert.Equal(t, "bc", linkMetaAtC)
	assert.Equal(t, types.Node{Identifier: "b", Meta: "mb", LinkMeta: "ab"}, atC[0])
	assert.Equal(t, types.Node{Identifier: "a", Meta: "ma", LinkMeta: nil}, atC[1])
}

func TestStepPanicSurfacesAsError(t *testing.T) {
	snap := snapWith(t, types.IdentifierEntry("a", types.Keep()))

	step := func(node types.Node, path []types.Node, acc any) (types.Control, any) {
		panic("boom")
	}
	_, err := Run(snap, step, nil, "a", types.SearchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestTouchedTracksVisitedIdentifiers(t *testing.T) {
	snap := pathGraph(t)

	res, err := Run(snap, collect, []string{}, "a", types.SearchOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Contains(t, res.Touched, "a")
	assert.Contains(t, res.Touched, "b")
	assert.NotContains(t, res.Touched, "c")
}
