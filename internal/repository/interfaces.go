// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/notegate/internal/model"
	"github.com/lib/pq"
)

// ErrUniqueViolation は一意制約違反を表す。
// ユーザーのメールアドレス重複や、決済セッションIDの再送で返される。
var ErrUniqueViolation = errors.New("unique constraint violation")

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// isUniqueViolation はpqのエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrUniqueViolationを返す。
	Create(ctx context.Context, user *model.User) error

	// MarkSubscribedByEmail は指定メールアドレスのユーザーの購読フラグを立てる。
	// 該当ユーザーが存在しない場合も成功とし、更新件数を返す。
	MarkSubscribedByEmail(ctx context.Context, email string) (int64, error)
}

// NoteRepository はノートデータの永続化インターフェース。
type NoteRepository interface {
	// Upsert はslugをキーにノートを作成または全項目置換で更新する。
	Upsert(ctx context.Context, note *model.Note) error

	// FindBySlug は指定slugのノートを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Note, error)

	// List は本文を含まないノートのメタデータをslug順に返す。
	List(ctx context.Context) ([]*model.NoteSummary, error)
}

// PurchaseRepository は購入台帳の永続化インターフェース。
type PurchaseRepository interface {
	// Insert は購入レコードを追加する。
	// 同一の決済セッションIDが既に存在する場合はErrUniqueViolationを返す。
	Insert(ctx context.Context, purchase *model.Purchase) error
}
