package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/notegate/internal/model"
)

func newNoteRepoWithMock(t *testing.T) (*PostgresNoteRepo, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresNoteRepo(db), mock, db
}

func TestPostgresNoteRepo_Upsert_ReplacesAllFields(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	note := &model.Note{
		Slug:       "intro",
		Title:      "Intro",
		Tags:       []string{"go"},
		Public:     true,
		PriceCents: 500,
		Content:    "body",
		Preview:    "bo",
		AssetMap:   map[string]string{"img/a.png": "blob-1"},
		Path:       "notes/intro.md",
		UpdatedAt:  now,
	}

	q := `(?s)^INSERT\s+INTO\s+notes.*ON\s+CONFLICT\s+\(slug\)\s+DO\s+UPDATE\s+SET.*asset_map\s*=\s*EXCLUDED\.asset_map`
	mock.ExpectExec(q).
		WithArgs("intro", "Intro", "", sqlmock.AnyArg(), true, 500, "body", "bo",
			[]byte(`{"img/a.png":"blob-1"}`), "notes/intro.md", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), note); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresNoteRepo_Upsert_NilAssetMapStoredAsEmptyObject(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+notes`).
		WithArgs("a", "", "", sqlmock.AnyArg(), false, 0, "", "", []byte(`{}`), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), &model.Note{Slug: "a"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestPostgresNoteRepo_Upsert_DBError(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+notes`).WillReturnError(errors.New("db down"))

	if err := repo.Upsert(context.Background(), &model.Note{Slug: "a"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPostgresNoteRepo_FindBySlug_Found(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"slug", "title", "description", "tags", "public", "price_cents", "content", "preview", "asset_map", "path", "updated_at"}
	mock.ExpectQuery(`(?s)^SELECT\s+slug,.*FROM\s+notes\s+WHERE\s+slug\s*=\s*\$1$`).
		WithArgs("intro").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"intro", "Intro", "desc", "{go,tips}", false, 900, "body", "bo",
			[]byte(`{"img/a.png":"blob-1"}`), "notes/intro.md", now,
		))

	got, err := repo.FindBySlug(context.Background(), "intro")
	if err != nil {
		t.Fatalf("FindBySlug error: %v", err)
	}
	if got == nil {
		t.Fatal("expected note, got nil")
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" || got.Tags[1] != "tips" {
		t.Errorf("Tags = %v, want [go tips]", got.Tags)
	}
	if got.AssetMap["img/a.png"] != "blob-1" {
		t.Errorf("AssetMap = %v", got.AssetMap)
	}
	if got.PriceCents != 900 || got.Public {
		t.Errorf("unexpected note: %+v", got)
	}
}

func TestPostgresNoteRepo_FindBySlug_NotFound_ReturnsNil(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+notes\s+WHERE\s+slug`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.FindBySlug(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil note, got %+v", got)
	}
}

func TestPostgresNoteRepo_List_OrderedBySlug(t *testing.T) {
	repo, mock, db := newNoteRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	cols := []string{"slug", "title", "description", "tags", "public", "price_cents", "updated_at"}
	mock.ExpectQuery(`(?s)^SELECT\s+slug,.*FROM\s+notes\s+ORDER\s+BY\s+slug$`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a", "A", "", "{}", true, 0, now).
			AddRow("b", "B", "", "{x}", false, 100, now))

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Slug != "a" || got[1].Slug != "b" {
		t.Errorf("order = [%s %s], want [a b]", got[0].Slug, got[1].Slug)
	}
	if got[0].Tags == nil {
		t.Error("Tags should be empty slice, not nil")
	}
}
