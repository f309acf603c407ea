package model

import "time"

// PurchaseStatusPaid は決済完了済みの購入を表すステータス。
const PurchaseStatusPaid = "paid"

// Purchase は購入台帳の1レコードを表す。
// PaymentSessionIDは一意で、同一決済イベントの二重処理を防ぐ境界となる。
type Purchase struct {
	ID               string
	Email            string
	NoteSlug         string
	PaymentSessionID string
	Status           string
	PurchasedAt      time.Time
}
