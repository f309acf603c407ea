// Package lease は同期処理の多重起動を防ぐための期限付きリースを提供する。
package lease

import (
	"context"
	"time"
)

// Locker はキー単位の期限付きリース。
// TryAcquireは未保持または期限切れの場合のみ取得に成功し、確認と設定をアトミックに行う。
// 明示的な解放は無く、TTL経過で自動的に失効する。ttlが0以下の場合は常に取得に成功する。
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
