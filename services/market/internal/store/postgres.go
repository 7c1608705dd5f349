package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps every collection in one JSONB table. Each statement touches a
// single document; nothing here spans documents.
type Postgres struct{ DB *pgxpool.Pool }

var _ DocStore = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

const schema = `
CREATE TABLE IF NOT EXISTS market_documents(
  collection text NOT NULL,
  doc_id text NOT NULL,
  version bigint NOT NULL DEFAULT 1,
  body jsonb NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, doc_id)
);
CREATE INDEX IF NOT EXISTS market_documents_contract_idx ON market_documents (collection, (body->>'contract_id'));
CREATE INDEX IF NOT EXISTS market_documents_status_idx ON market_documents (collection, (body->>'status'));
`

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	doc := Document{ID: id}
	err := s.DB.QueryRow(ctx, `SELECT version, body FROM market_documents WHERE collection=$1 AND doc_id=$2`, collection, id).
		Scan(&doc.Version, &doc.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *Postgres) Create(ctx context.Context, collection, id string, body []byte) error {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO market_documents(collection,doc_id,version,body)
VALUES($1,$2,1,$3::jsonb)
ON CONFLICT (collection,doc_id) DO NOTHING
`, collection, id, string(body))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, collection, id string, expected int64, body []byte) (int64, error) {
	var version int64
	err := s.DB.QueryRow(ctx, `
UPDATE market_documents SET body=$4::jsonb, version=version+1, updated_at=now()
WHERE collection=$1 AND doc_id=$2 AND version=$3
RETURNING version
`, collection, id, expected, string(body)).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM market_documents WHERE collection=$1 AND doc_id=$2)`, collection, id).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrVersionConflict
}

func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM market_documents WHERE collection=$1 AND doc_id=$2`, collection, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, collection string, where ...Eq) ([]Document, error) {
	var b strings.Builder
	b.WriteString(`SELECT doc_id, version, body FROM market_documents WHERE collection=$1`)
	args := []any{collection}
	for _, w := range where {
		fmt.Fprintf(&b, ` AND body->>$%d = $%d`, len(args)+1, len(args)+2)
		args = append(args, w.Field, w.Value)
	}
	b.WriteString(` ORDER BY doc_id ASC`)
	rows, err := s.DB.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Version, &d.Body); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
