// Package topograph is the public face of the engine: an in-memory graph of
// identifiers and links carrying arbitrary JSON-like metadata, with batch
// mutation (Publish), callback-driven traversal (Search) and standing
// reactive queries (Subscribe). Every method delegates to the single graph
// owner; see the types package for the value and option vocabulary.
package topograph

import (
	"context"

	"go.uber.org/zap"

	"github.com/topograph/topograph/internal/hub"
	"github.com/topograph/topograph/internal/record"
	"github.com/topograph/topograph/pkg/types"
)

// Neo4jConfig holds connection settings for a Neo4j-backed record store.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type options struct {
	log        *zap.Logger
	sqlitePath string
	neo4j      *Neo4jConfig
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithSQLite backs persistent-class publishes with a SQLite database at
// path, replayed into memory on open.
func WithSQLite(path string) Option {
	return func(o *options) { o.sqlitePath = path }
}

// WithNeo4j backs persistent-class publishes with a Neo4j database.
func WithNeo4j(cfg Neo4jConfig) Option {
	return func(o *options) { o.neo4j = &cfg }
}

// DB is a handle to one graph. All methods are safe for concurrent use.
type DB struct {
	hub     *hub.Hub
	records record.Store
}

// Open builds the graph owner and, if configured, its durable record store.
func Open(ctx context.Context, opts ...Option) (*DB, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		records record.Store = record.Discard()
		err     error
	)
	switch {
	case o.neo4j != nil:
		records, err = record.OpenNeo4j(ctx, record.Neo4jConfig{
			URI:      o.neo4j.URI,
			Username: o.neo4j.Username,
			Password: o.neo4j.Password,
			Database: o.neo4j.Database,
		})
	case o.sqlitePath != "":
		records, err = record.OpenSQLite(ctx, o.sqlitePath)
	}
	if err != nil {
		return nil, err
	}

	h, err := hub.Open(ctx, records, o.log)
	if err != nil {
		records.Close(ctx)
		return nil, err
	}
	return &DB{hub: h, records: records}, nil
}

// Close stops the owner, tears down subscriptions and closes the record
// store.
func (db *DB) Close(ctx context.Context) error {
	db.hub.Close()
	return db.records.Close(ctx)
}

// Publish applies a batch of identifier and link mutations atomically.
func (db *DB) Publish(ctx context.Context, entries []types.Entry, opts types.PublishOptions) error {
	return db.hub.Publish(ctx, entries, opts)
}

// Search folds step over the identifiers reachable from start in the
// current snapshot and returns the final accumulator.
func (db *DB) Search(step types.StepFunc, acc any, start string, opts types.SearchOptions) (any, error) {
	return db.hub.Search(step, acc, start, opts)
}

// Get returns an identifier's metadata and neighbors.
func (db *DB) Get(id string) (types.Value, []string, error) {
	return db.hub.Get(id)
}

// Subscribe registers a standing search and returns its id.
func (db *DB) Subscribe(ctx context.Context, step types.StepFunc, acc any, start string, opts types.SubscribeOptions) (string, error) {
	return db.hub.Subscribe(ctx, step, acc, start, opts)
}

// Unsubscribe removes a subscription; removing an unknown id succeeds.
func (db *DB) Unsubscribe(id string) {
	db.hub.Unsubscribe(id)
}

// SubscriptionCount reports the number of live subscriptions.
func (db *DB) SubscriptionCount() int {
	return db.hub.SubscriptionCount()
}

// LinkData is one link in an Export dump, endpoints in canonical order.
type LinkData struct {
	A    string
	B    string
	Meta types.Value
}

// Export returns every identifier and link in the current snapshot.
func (db *DB) Export() (map[string]types.Value, []LinkData) {
	snap := db.hub.Snapshot()
	ids := make(map[string]types.Value, snap.IdentifierCount())
	for _, id := range snap.Identifiers() {
		meta, _ := snap.Identifier(id)
		ids[id] = meta
	}
	links := make([]LinkData, 0, snap.LinkCount())
	for _, key := range snap.Links() {
		meta, _ := snap.Link(key.A, key.B)
		links = append(links, LinkData{A: key.A, B: key.B, Meta: meta})
	}
	return ids, links
}
