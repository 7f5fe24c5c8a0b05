package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/topograph/topograph/internal/graph"
	"github.com/topograph/topograph/pkg/types"
)

const schemaIdentifiers = `
CREATE TABLE IF NOT EXISTS identifiers (
    id TEXT PRIMARY KEY,
    meta TEXT NOT NULL
)`

const schemaLinks = `
CREATE TABLE IF NOT EXISTS links (
    a TEXT NOT NULL,
    b TEXT NOT NULL,
    meta TEXT NOT NULL,
    PRIMARY KEY (a, b)
)`

const indexLinksA = `CREATE INDEX IF NOT EXISTS idx_links_a ON links(a)`
const indexLinksB = `CREATE INDEX IF NOT EXISTS idx_links_b ON links(b)`

const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// SQLiteStore persists records in a SQLite database, metadata as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the record database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	for _, pragma := range []string{pragmaWAL, pragmaBusyTimeout, pragmaSynchronous} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma: %w", err)
		}
	}
	for _, stmt := range []string{schemaIdentifiers, schemaLinks, indexLinksA, indexLinksB} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Apply writes the whole change set in one transaction, in application
// order.
func (s *SQLiteStore) Apply(ctx context.Context, changes *graph.ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning record transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ic := range changes.Identifiers {
		if ic.Kind == graph.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM identifiers WHERE id = ?`, ic.ID); err != nil {
				return fmt.Errorf("deleting identifier %q: %w", ic.ID, err)
			}
			continue
		}
		text, err := marshalMeta(ic.Meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identifiers (id, meta) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET meta = excluded.meta`,
			ic.ID, text)
		if err != nil {
			return fmt.Errorf("storing identifier %q: %w", ic.ID, err)
		}
	}

	for _, lc := range changes.Links {
		a, b := canonical(lc.Key.A, lc.Key.B)
		if lc.Kind == graph.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE a = ? AND b = ?`, a, b); err != nil {
				return fmt.Errorf("deleting link %q-%q: %w", a, b, err)
			}
			continue
		}
		text, err := marshalMeta(lc.Meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO links (a, b, meta) VALUES (?, ?, ?)
			ON CONFLICT(a, b) DO UPDATE SET meta = excluded.meta`,
			a, b, text)
		if err != nil {
			return fmt.Errorf("storing link %q-%q: %w", a, b, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing record transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (*Contents, error) {
	contents := &Contents{Identifiers: make(map[string]types.Value)}

	rows, err := s.db.QueryContext(ctx, `SELECT id, meta FROM identifiers`)
	if err != nil {
		return nil, fmt.Errorf("loading identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		meta, err := unmarshalMeta(text)
		if err != nil {
			return nil, err
		}
		contents.Identifiers[id] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading identifiers: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx, `SELECT a, b, meta FROM links`)
	if err != nil {
		return nil, fmt.Errorf("loading links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var a, b, text string
		if err := linkRows.Scan(&a, &b, &text); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		meta, err := unmarshalMeta(text)
		if err != nil {
			return nil, err
		}
		contents.Links = append(contents.Links, LinkRecord{A: a, B: b, Meta: meta})
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("loading links: %w", err)
	}
	return contents, nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

func canonical(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func marshalMeta(meta types.Value) (string, error) {
	text, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(text), nil
}

func unmarshalMeta(text string) (types.Value, error) {
	var meta types.Value
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return meta, nil
}
