// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return pool, nil
}

// EntityStore writes content entities into Postgres.
type EntityStore struct {
	pool dbtx
}

// NewEntityStore creates a store from an existing pool (or a mock in
// tests).
func NewEntityStore(pool dbtx) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *EntityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const findEntityQuery = `
SELECT kind, source_id, title, body, author_id, author_name, category, tags,
       published_at, word_count, reading_time, has_images, has_code,
       snapshot_uri, status, failure_text, crawled_at
FROM entities
WHERE kind = $1 AND source_id = $2`

// FindEntity loads the entity for the key, or harvest.ErrNotFound.
func (s *EntityStore) FindEntity(ctx context.Context, kind harvest.Kind, sourceID string) (harvest.ContentEntity, error) {
	var (
		entity   harvest.ContentEntity
		tagsJSON []byte
	)
	row := s.pool.QueryRow(ctx, findEntityQuery, string(kind), sourceID)
	err := row.Scan(
		&entity.Kind,
		&entity.SourceID,
		&entity.Title,
		&entity.Body,
		&entity.AuthorID,
		&entity.AuthorName,
		&entity.Category,
		&tagsJSON,
		&entity.PublishedAt,
		&entity.WordCount,
		&entity.ReadingTime,
		&entity.HasImages,
		&entity.HasCode,
		&entity.SnapshotURI,
		&entity.Status,
		&entity.FailureText,
		&entity.CrawledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.ContentEntity{}, harvest.ErrNotFound
		}
		return harvest.ContentEntity{}, fmt.Errorf("find entity: %w", err)
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &entity.Tags); err != nil {
			return harvest.ContentEntity{}, fmt.Errorf("decode entity tags: %w", err)
		}
	}
	return entity, nil
}

const upsertEntityQuery = `
INSERT INTO entities (
	kind, source_id, title, body, author_id, author_name, category, tags,
	published_at, word_count, reading_time, has_images, has_code,
	snapshot_uri, status, failure_text, crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)
ON CONFLICT (kind, source_id) DO UPDATE SET
	title = EXCLUDED.title,
	body = EXCLUDED.body,
	author_id = EXCLUDED.author_id,
	author_name = EXCLUDED.author_name,
	category = EXCLUDED.category,
	tags = EXCLUDED.tags,
	published_at = EXCLUDED.published_at,
	word_count = EXCLUDED.word_count,
	reading_time = EXCLUDED.reading_time,
	has_images = EXCLUDED.has_images,
	has_code = EXCLUDED.has_code,
	snapshot_uri = EXCLUDED.snapshot_uri,
	status = EXCLUDED.status,
	failure_text = EXCLUDED.failure_text,
	crawled_at = EXCLUDED.crawled_at`

// UpsertEntity creates or updates the entity in place; the (kind,
// source_id) unique key guarantees at most one row per target.
func (s *EntityStore) UpsertEntity(ctx context.Context, kind harvest.Kind, sourceID string, fields harvest.EntityFields) error {
	tagsJSON, err := json.Marshal(fields.Tags)
	if err != nil {
		return fmt.Errorf("encode entity tags: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertEntityQuery,
		string(kind),
		sourceID,
		fields.Title,
		fields.Body,
		fields.AuthorID,
		fields.AuthorName,
		fields.Category,
		tagsJSON,
		fields.PublishedAt,
		fields.WordCount,
		fields.ReadingTime,
		fields.HasImages,
		fields.HasCode,
		fields.SnapshotURI,
		string(fields.Status),
		fields.FailureText,
		fields.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}
