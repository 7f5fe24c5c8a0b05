package topograph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/topograph/topograph/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

func startMeta(node types.Node, path []types.Node, acc any) (types.Control, any) {
	return types.Stop, node.Meta
}

func TestPublishSearchSubscribe(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Publish(ctx, []types.Entry{
		types.LinkEntry(
			types.Endpoint{ID: "sensor", Meta: types.Set(map[string]any{"unit": "C"})},
			types.Endpoint{ID: "gateway"},
			types.Set("reports-to")),
	}, types.PublishOptions{Persistence: types.Persistent}))

	got, err := db.Search(startMeta, nil, "sensor", types.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Value{"unit": "C"}, got)

	meta, neighbors, err := db.Get("gateway")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Equal(t, []string{"sensor"}, neighbors)

	deliveries := make(chan any, 16)
	id, err := db.Subscribe(ctx, startMeta, nil, "sensor", types.SubscribeOptions{
		Delivery: func(delta any) types.DeliveryControl {
			deliveries <- delta
			return types.DeliveryOK
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, db.SubscriptionCount())

	require.NoError(t, db.Publish(ctx, []types.Entry{
		types.IdentifierEntry("sensor", types.Set(map[string]any{"unit": "F"})),
	}, types.PublishOptions{Persistence: types.Persistent}))

	select {
	case v := <-deliveries:
		assert.Equal(t, map[string]types.Value{"unit": "F"}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	db.Unsubscribe(id)
	assert.Equal(t, 0, db.SubscriptionCount())
}

func TestSQLitePersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	db, err := Open(ctx, WithSQLite(path))
	require.NoError(t, err)
	require.NoError(t, db.Publish(ctx, []types.Entry{
		types.LinkEntry(
			types.Endpoint{ID: "a", Meta: types.Set(1)},
			types.Endpoint{ID: "b", Meta: types.Set(2)},
			types.Set("ab")),
	}, types.PublishOptions{Persistence: types.Persistent}))

	// Message-class mutations must not survive the restart.
	require.NoError(t, db.Publish(ctx, []types.Entry{
		types.IdentifierEntry("a", types.Set(99)),
	}, types.PublishOptions{Persistence: types.Message}))
	require.NoError(t, db.Close(ctx))

	db = openDB(t, WithSQLite(path))
	ids, links := db.Export()
	assert.Equal(t, map[string]types.Value{"a": float64(1), "b": float64(2)}, ids)
	require.Len(t, links, 1)
	assert.Equal(t, LinkData{A: "a", B: "b", Meta: "ab"}, links[0])
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Publish(ctx, []types.Entry{
		types.IdentifierEntry("solo", types.Set("alone")),
		types.LinkEntry(types.Endpoint{ID: "x"}, types.Endpoint{ID: "y"}, types.Keep()),
	}, types.PublishOptions{Persistence: types.Persistent}))

	ids, links := db.Export()
	assert.Equal(t, map[string]types.Value{"solo": "alone", "x": nil, "y": nil}, ids)
	require.Len(t, links, 1)
	assert.Equal(t, LinkData{A: "x", B: "y", Meta: nil}, links[0])
}
