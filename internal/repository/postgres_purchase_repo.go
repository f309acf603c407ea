package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/notegate/internal/model"
)

// PostgresPurchaseRepo はPostgreSQLを使用した購入台帳リポジトリ。
// 台帳は追記のみで、更新・削除の操作は提供しない。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// Insert は購入レコードを追加する。
// payment_session_idの一意制約により、同一決済の二重処理はErrUniqueViolationとなる。
func (r *PostgresPurchaseRepo) Insert(ctx context.Context, p *model.Purchase) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (id, email, note_slug, payment_session_id, status, purchased_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Email, p.NoteSlug, p.PaymentSessionID, p.Status, p.PurchasedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert purchase %s: %w", p.PaymentSessionID, ErrUniqueViolation)
	}
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
