package model

import "time"

// Note は同期されたMarkdownノートを表す。
// Slugはソースリポジトリとストアを結ぶ一意キーで、再同期時はSlug単位で上書きされる。
type Note struct {
	Slug        string
	Title       string
	Description string
	Tags        []string
	Public      bool
	PriceCents  int
	Content     string
	Preview     string
	AssetMap    map[string]string // リポジトリ内パス -> blob ID
	Path        string
	UpdatedAt   time.Time
}

// IsFree は認証なしで誰でも閲覧できるノートかどうかを返す。
func (n *Note) IsFree() bool {
	return n.Public && n.PriceCents == 0
}

// NoteSummary はノート一覧で返すメタデータ（本文を含まない）。
type NoteSummary struct {
	Slug        string
	Title       string
	Description string
	Tags        []string
	Public      bool
	PriceCents  int
	UpdatedAt   time.Time
}
