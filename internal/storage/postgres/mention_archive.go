// Package postgres archives discovered mentions in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webmentions/internal/mention"
)

const defaultTable = "webmentions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArchiveConfig controls the Postgres connection pool used for mention rows.
type ArchiveConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// MentionArchive writes one row per discovered mention. Rows are keyed by
// (document, mention id) and never updated.
type MentionArchive struct {
	pool  execCloser
	table string
}

// NewMentionArchive connects to Postgres using cfg.
func NewMentionArchive(ctx context.Context, cfg ArchiveConfig) (*MentionArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MentionArchive{pool: pool, table: table}, nil
}

// NewMentionArchiveWithPool constructs an archive from an existing pool (primarily for testing).
func NewMentionArchiveWithPool(pool execCloser, table string) (*MentionArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MentionArchive{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (a *MentionArchive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// EnsureSchema creates the archive table when it does not exist.
func (a *MentionArchive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	document      TEXT NOT NULL,
	mention_id    TEXT NOT NULL,
	source        TEXT NOT NULL,
	target        TEXT NOT NULL,
	mention_type  TEXT NOT NULL,
	verified_date TIMESTAMPTZ,
	raw           JSONB,
	archived_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (document, mention_id)
)`, a.table)
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", a.table, err)
	}
	return nil
}

// Archive inserts rec for document. It reports whether a new row was written.
func (a *MentionArchive) Archive(ctx context.Context, document string, rec mention.Record) (bool, error) {
	if a == nil || a.pool == nil {
		return false, fmt.Errorf("mention archive is not configured")
	}
	if rec.ID == "" {
		return false, mention.ErrMissingID
	}
	rawJSON, err := json.Marshal(rec.Raw)
	if err != nil {
		return false, fmt.Errorf("marshal raw payload: %w", err)
	}
	var verified any
	if !rec.VerifiedDate.IsZero() {
		verified = rec.VerifiedDate
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	document,
	mention_id,
	source,
	target,
	mention_type,
	verified_date,
	raw
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (document, mention_id) DO NOTHING`, a.table)

	tag, err := a.pool.Exec(ctx, query,
		document,
		rec.ID,
		rec.Source,
		rec.Target,
		string(rec.Type),
		verified,
		rawJSON,
	)
	if err != nil {
		return false, fmt.Errorf("insert mention: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
