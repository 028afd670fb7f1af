package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS hitl_memory_records (
	user_id    TEXT        NOT NULL,
	record_id  TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	source     TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, record_id)
);
CREATE INDEX IF NOT EXISTS idx_hitl_memory_records_user_created
	ON hitl_memory_records (user_id, created_at);
`

// PgConfig 连接池配置
type PgConfig struct {
	DSN      string
	MinConns int32
	MaxConns int32
}

// PgStore Postgres 实现
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 创建基于 PostgreSQL 的 Store 并确保表结构存在
func NewPgStore(ctx context.Context, cfg PgConfig) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory: parse dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 幂等建表
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("memory: ensure schema: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PgStore) Close() {
	s.pool.Close()
}

// Ping 探活
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append 实现 Store；record_id 冲突（23505）时重新生成一次
func (s *PgStore) Append(ctx context.Context, userID, content, source string) (Record, error) {
	if err := validate(userID, content); err != nil {
		return Record{}, err
	}
	var r Record
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		r = Record{UserID: userID, RecordID: uuid.NewString(), Content: content, Source: source}
		err = s.pool.QueryRow(ctx,
			`INSERT INTO hitl_memory_records (user_id, record_id, content, source)
			 VALUES ($1, $2, $3, $4)
			 RETURNING created_at`,
			r.UserID, r.RecordID, r.Content, r.Source).Scan(&r.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		break
	}
	if err != nil {
		return Record{}, fmt.Errorf("memory: append: %w", err)
	}
	return r, nil
}

// ListFor 实现 Store
func (s *PgStore) ListFor(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, record_id, content, source, created_at
		 FROM hitl_memory_records WHERE user_id = $1 ORDER BY created_at, record_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.UserID, &r.RecordID, &r.Content, &r.Source, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
