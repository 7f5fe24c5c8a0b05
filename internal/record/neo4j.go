package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/pkg/types"
)

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore persists records in a Neo4j database. Metadata is stored as a
// JSON string property, since Neo4j properties cannot hold nested maps.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// OpenNeo4j connects to Neo4j and verifies connectivity.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

// Apply runs the whole change set inside one managed write transaction: a
// failed statement rolls back everything already run for this change set.
func (s *Neo4jStore) Apply(ctx context.Context, changes *graph.ChangeSet) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, ic := range changes.Identifiers {
			if ic.Kind == graph.Deleted {
				query := `
					MATCH (i:Identifier {id: $id})
					DETACH DELETE i
				`
				if _, err := tx.Run(ctx, query, map[string]any{"id": ic.ID}); err != nil {
					return nil, fmt.Errorf("deleting identifier %q: %w", ic.ID, err)
				}
				continue
			}
			metaJSON, err := json.Marshal(ic.Meta)
			if err != nil {
				return nil, fmt.Errorf("marshaling metadata: %w", err)
			}
			query := `
				MERGE (i:Identifier {id: $id})
				SET i.meta = $meta
			`
			if _, err := tx.Run(ctx, query, map[string]any{"id": ic.ID, "meta": string(metaJSON)}); err != nil {
				return nil, fmt.Errorf("storing identifier %q: %w", ic.ID, err)
			}
		}

		for _, lc := range changes.Links {
			a, b := canonical(lc.Key.A, lc.Key.B)
			if lc.Kind == graph.Deleted {
				query := `
					MATCH (x:Identifier {id: $a})-[l:LINKED]-(y:Identifier {id: $b})
					DELETE l
				`
				if _, err := tx.Run(ctx, query, map[string]any{"a": a, "b": b}); err != nil {
					return nil, fmt.Errorf("deleting link %q-%q: %w", a, b, err)
				}
				continue
			}
			metaJSON, err := json.Marshal(lc.Meta)
			if err != nil {
				return nil, fmt.Errorf("marshaling metadata: %w", err)
			}
			query := `
				MERGE (x:Identifier {id: $a})
				MERGE (y:Identifier {id: $b})
				MERGE (x)-[l:LINKED]-(y)
				SET l.meta = $meta
			`
			params := map[string]any{"a": a, "b": b, "meta": string(metaJSON)}
			if _, err := tx.Run(ctx, query, params); err != nil {
				return nil, fmt.Errorf("storing link %q-%q: %w", a, b, err)
			}
		}
		return nil, nil
	})
	return err
}

func (s *Neo4jStore) LoadAll(ctx context.Context) (*Contents, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	contents := &Contents{Identifiers: make(map[string]types.Value)}

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (i:Identifier) RETURN i.id AS id, i.meta AS meta`, nil)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record()
			id, _ := rec.Get("id")
			metaRaw, _ := rec.Get("meta")
			meta, err := decodeMetaProperty(metaRaw)
			if err != nil {
				return nil, err
			}
			contents.Identifiers[id.(string)] = meta
		}
		if err := result.Err(); err != nil {
			return nil, err
		}

		result, err = tx.Run(ctx, `
			MATCH (x:Identifier)-[l:LINKED]-(y:Identifier)
			WHERE x.id < y.id
			RETURN x.id AS a, y.id AS b, l.meta AS meta`, nil)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			rec := result.Record()
			a, _ := rec.Get("a")
			b, _ := rec.Get("b")
			metaRaw, _ := rec.Get("meta")
			meta, err := decodeMetaProperty(metaRaw)
			if err != nil {
				return nil, err
			}
			contents.Links = append(contents.Links, LinkRecord{
				A:    a.(string),
				B:    b.(string),
				Meta: meta,
			})
		}
		return nil, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	return contents, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func decodeMetaProperty(raw any) (types.Value, error) {
	text, ok := raw.(string)
	if !ok || text == "" {
		return nil, nil
	}
	var meta types.Value
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return meta, nil
}
