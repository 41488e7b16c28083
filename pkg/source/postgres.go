package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmerrifield20/canapi/pkg/apispec"
	"go.uber.org/zap"
)

// Schema creates the table used by Postgres. It is also shipped as
// migrations/001_api_documents.up.sql.
const Schema = `
CREATE TABLE IF NOT EXISTS api_documents (
	name         TEXT        NOT NULL,
	version      TEXT        NOT NULL DEFAULT '',
	document     JSONB       NOT NULL,
	published_by TEXT        NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (name, version)
)`

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores documents in PostgreSQL. The unversioned document of a
// name is stored with version "".
type Postgres struct {
	db     DB
	logger *zap.Logger
}

// NewPostgres creates a Postgres source backed by db.
func NewPostgres(db DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the documents table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create api_documents: %w", err)
	}
	return nil
}

// Lookup implements Source.
func (p *Postgres) Lookup(ctx context.Context, name, version string) (*apispec.Document, error) {
	var raw []byte
	err := p.db.QueryRow(ctx,
		`SELECT document FROM api_documents WHERE name = $1 AND version = $2`,
		name, version,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document %s: %w", Key(name, version), err)
	}

	doc, err := apispec.Decode(raw, apispec.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("decode stored document %s: %w", Key(name, version), err)
	}
	return doc, nil
}

// Publish inserts or replaces a document.
func (p *Postgres) Publish(ctx context.Context, doc *apispec.Document, publisher string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := p.db.Exec(ctx,
		`INSERT INTO api_documents (name, version, document, published_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, version) DO UPDATE
		   SET document = EXCLUDED.document,
		       published_by = EXCLUDED.published_by,
		       updated_at = EXCLUDED.updated_at`,
		doc.Name, doc.Version, data, publisher, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert document %s: %w", Key(doc.Name, doc.Version), err)
	}
	p.logger.Info("document published",
		zap.String("api", doc.Name),
		zap.String("version", doc.Version),
		zap.String("publisher", publisher),
	)
	return nil
}

// List returns every stored document, sorted by name then version.
func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.Query(ctx, `SELECT name, version FROM api_documents ORDER BY name, version`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Version); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Source = (*Postgres)(nil)
