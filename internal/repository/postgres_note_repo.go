package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/notegate/internal/model"
	"github.com/lib/pq"
)

// PostgresNoteRepo はPostgreSQLを使用したノートリポジトリ。
type PostgresNoteRepo struct {
	db *sql.DB
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db}
}

// Upsert はslugをキーにノートを作成または更新する。
// 追跡対象の全項目を置き換える（マージはしない）。
func (r *PostgresNoteRepo) Upsert(ctx context.Context, note *model.Note) error {
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}
	assetMap := note.AssetMap
	if assetMap == nil {
		assetMap = map[string]string{}
	}
	assetJSON, err := json.Marshal(assetMap)
	if err != nil {
		return fmt.Errorf("failed to encode asset map: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notes (slug, title, description, tags, public, price_cents, content, preview, asset_map, path, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			public = EXCLUDED.public,
			price_cents = EXCLUDED.price_cents,
			content = EXCLUDED.content,
			preview = EXCLUDED.preview,
			asset_map = EXCLUDED.asset_map,
			path = EXCLUDED.path,
			updated_at = EXCLUDED.updated_at`,
		note.Slug, note.Title, note.Description, pq.Array(tags), note.Public, note.PriceCents,
		note.Content, note.Preview, assetJSON, note.Path, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.Slug, err)
	}
	return nil
}

// FindBySlug は指定slugのノートを取得する。見つからない場合はnilを返す。
func (r *PostgresNoteRepo) FindBySlug(ctx context.Context, slug string) (*model.Note, error) {
	note := &model.Note{}
	var assetJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT slug, title, description, tags, public, price_cents, content, preview, asset_map, path, updated_at
		 FROM notes WHERE slug = $1`,
		slug,
	).Scan(&note.Slug, &note.Title, &note.Description, pq.Array(&note.Tags), &note.Public, &note.PriceCents,
		&note.Content, &note.Preview, &assetJSON, &note.Path, &note.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note by slug: %w", err)
	}

	note.AssetMap = map[string]string{}
	if len(assetJSON) > 0 {
		if err := json.Unmarshal(assetJSON, &note.AssetMap); err != nil {
			return nil, fmt.Errorf("failed to decode asset map of note %s: %w", slug, err)
		}
	}
	return note, nil
}

// List は本文を含まないノートのメタデータをslug順に返す。
func (r *PostgresNoteRepo) List(ctx context.Context) ([]*model.NoteSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slug, title, description, tags, public, price_cents, updated_at
		 FROM notes ORDER BY slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*model.NoteSummary
	for rows.Next() {
		n := &model.NoteSummary{}
		if err := rows.Scan(&n.Slug, &n.Title, &n.Description, pq.Array(&n.Tags), &n.Public, &n.PriceCents, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if n.Tags == nil {
			n.Tags = []string{}
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// compile-time interface check
var _ NoteRepository = (*PostgresNoteRepo)(nil)
