// Package syncer はノートの定期同期を行うバックグラウンドワーカーを提供する。
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/notegate/internal/lease"
	"github.com/hitoshi/notegate/internal/notesync"
)

// NoteSyncer はノート同期の実行インターフェース。
type NoteSyncer interface {
	Sync(ctx context.Context, ref, pathPrefix string) (*notesync.Result, error)
}

// Config はスケジューラの設定。
type Config struct {
	Owner     string
	Repo      string
	Ref       string
	NotesPath string
	Interval  time.Duration
}

// Scheduler は一定間隔で全件同期を実行する。
// 複数インスタンスで起動しても、リースを取得できたインスタンスだけが各回の同期を行う。
type Scheduler struct {
	syncer NoteSyncer
	locker lease.Locker
	cfg    Config
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// Intervalが0以下の場合はデフォルト値15分を使用する。
func NewScheduler(syncer NoteSyncer, locker lease.Locker, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{syncer: syncer, locker: locker, cfg: cfg, logger: logger}
}

// LeaseKey は同期の直列化に使うリースのキーを返す。
func (s *Scheduler) LeaseKey() string {
	return "sync:" + s.cfg.Owner + "/" + s.cfg.Repo + ":" + s.cfg.Ref
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("lease_key", s.LeaseKey()),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if _, _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はリースを取得できた場合に全件同期を1回実行する。
// リースを他のインスタンスが保持している場合はran=falseを返す。
// リースの確認自体に失敗した場合は同期を実行する。
func (s *Scheduler) RunOnce(ctx context.Context) (result *notesync.Result, ran bool, err error) {
	if s.locker != nil {
		acquired, lerr := s.locker.TryAcquire(ctx, s.LeaseKey(), s.cfg.Interval)
		switch {
		case lerr != nil:
			s.logger.Warn("リースの確認に失敗したため同期を実行します",
				slog.String("lease_key", s.LeaseKey()),
				slog.String("error", lerr.Error()),
			)
		case !acquired:
			s.logger.Info("他のインスタンスが同期中のためスキップします",
				slog.String("lease_key", s.LeaseKey()),
			)
			return nil, false, nil
		}
	}

	start := time.Now()
	result, err = s.syncer.Sync(ctx, s.cfg.Ref, s.cfg.NotesPath)
	if err != nil {
		return nil, true, err
	}

	s.logger.Info("同期サイクルが完了しました",
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", len(result.Failed)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, true, nil
}
