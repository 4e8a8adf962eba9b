package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"prompt2web_server/internal/types"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	overview   TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	index_file TEXT NOT NULL DEFAULT 'index.html',
	files      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS projects_account_created_idx ON projects (account_id, created_at DESC)`

const selectColumns = `id, account_id, prompt, overview, title, index_file, files, created_at`

// Postgres stores records in a single projects table.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens the database, pings it and creates the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Create(ctx context.Context, rec types.ProjectRecord) error {
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO projects (`+selectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.AccountID, rec.Prompt, rec.Overview, rec.Title, rec.IndexFile, string(files), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, accountID string) ([]types.ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM projects WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []types.ProjectRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, accountID, id string) (types.ProjectRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM projects WHERE id = $1 AND account_id = $2`, id, accountID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ProjectRecord{}, ErrNotFound
	}
	return rec, err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (types.ProjectRecord, error) {
	var (
		rec   types.ProjectRecord
		files []byte
	)
	if err := s.Scan(&rec.ID, &rec.AccountID, &rec.Prompt, &rec.Overview, &rec.Title, &rec.IndexFile, &files, &rec.CreatedAt); err != nil {
		return types.ProjectRecord{}, err
	}
	if err := json.Unmarshal(files, &rec.Files); err != nil {
		return types.ProjectRecord{}, fmt.Errorf("failed to decode files: %w", err)
	}
	return rec, nil
}
