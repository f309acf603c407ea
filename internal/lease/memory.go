package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker は単一インスタンス向けのプロセス内リース。
type MemoryLocker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryLocker はMemoryLockerを生成する。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TryAcquire はリースの取得を試みる。ttlが0以下の場合は常に取得でき、何も保持しない。
func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.expires[key]; ok && now.Before(until) {
		return false, nil
	}

	// 期限切れのキーを掃除する
	for k, until := range l.expires {
		if !now.Before(until) {
			delete(l.expires, k)
		}
	}

	l.expires[key] = now.Add(ttl)
	return true, nil
}

var _ Locker = (*MemoryLocker)(nil)
