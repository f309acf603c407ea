// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IsSubscribed は全ノートへのアクセスを許可する唯一の永続的なフラグで、
// 購入処理（purchase.Fulfiller）以外からは変更しない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsSubscribed bool
	CreatedAt    time.Time
}
