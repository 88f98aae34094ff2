// Package pgstore loads and saves embedding matrices in a Postgres table with
// a pgvector column, one row per query or document:
//
//	CREATE TABLE <schema>.<table> (
//		position  integer PRIMARY KEY,
//		embedding vector NOT NULL
//	);
//
// Row position i holds the embedding of query or document i.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/wizenheimer/linkknn"
)

// ErrGap is returned when the stored positions are not 0..n-1.
var ErrGap = errors.New("matrix table positions are not contiguous")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DB = (*pgxpool.Pool)(nil)

// Store reads and writes matrices in one schema.
type Store struct {
	db     DB
	schema string
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// New returns a store over db. schema defaults to "public".
func New(db DB, schema string) (*Store, error) {
	if schema == "" {
		schema = "public"
	}
	if !identifier.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &Store{db: db, schema: schema}, nil
}

func (s *Store) qualified(table string) (string, error) {
	if !identifier.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return pgx.Identifier{s.schema, table}.Sanitize(), nil
}

// EnsureTable creates the matrix table and the vector extension if missing.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	name, err := s.qualified(table)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position  integer PRIMARY KEY,
			embedding vector NOT NULL
		)`, name)
	if _, err := s.db.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	return nil
}

// LoadMatrix reads the whole table ordered by position.
func (s *Store) LoadMatrix(ctx context.Context, table string) (linkknn.Matrix, error) {
	name, err := s.qualified(table)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT position, embedding::text FROM %s ORDER BY position`, name)
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var m linkknn.Matrix
	for rows.Next() {
		var (
			pos  int
			text string
		)
		if err := rows.Scan(&pos, &text); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		if pos != len(m) {
			return nil, fmt.Errorf("%w: %s has position %d at row %d", ErrGap, name, pos, len(m))
		}
		var v pgvector.Vector
		if err := v.Scan(text); err != nil {
			return nil, fmt.Errorf("%s position %d: %w", name, pos, err)
		}
		m = append(m, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// SaveMatrix replaces the table contents with m in a single batch.
func (s *Store) SaveMatrix(ctx context.Context, table string, m linkknn.Matrix) error {
	if err := m.Validate(); err != nil {
		return err
	}
	name, err := s.qualified(table)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(fmt.Sprintf(`TRUNCATE %s`, name))
	insert := fmt.Sprintf(`INSERT INTO %s (position, embedding) VALUES ($1, $2)`, name)
	for i, row := range m {
		batch.Queue(insert, i, pgvector.NewVector(row))
	}

	br := s.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("write %s: statement %d: %w", name, i, err)
		}
	}
	return br.Close()
}
