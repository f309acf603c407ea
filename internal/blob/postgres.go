package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore はassetsテーブルのBYTEA列にアセットを保存する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put はアセットをUPSERTする。
func (s *PostgresStore) Put(ctx context.Context, data []byte, path, contentType string) (string, error) {
	id := IDForPath(path)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, path, content_type, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			content_type = EXCLUDED.content_type,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		id, path, contentType, data, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store asset %s: %w", path, err)
	}
	return id, nil
}

// Get はアセットを取得する。
func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, content_type FROM assets WHERE id = $1`, id,
	).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load asset %s: %w", id, err)
	}
	return data, contentType, nil
}

var _ Store = (*PostgresStore)(nil)
