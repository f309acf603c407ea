// Package webhook はGitHubのpush Webhookを受け付け、ノートの再同期を予約する。
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/notegate/internal/lease"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/notesync"
)

const (
	defaultBranch = "main"
	// syncTimeout はバックグラウンド同期1回あたりの上限時間。
	syncTimeout = 10 * time.Minute
)

// Syncer はノート同期の実行者。
type Syncer interface {
	Sync(ctx context.Context, ref, pathPrefix string) (*notesync.Result, error)
}

// Recorder はWebhookの受信結果を記録する。
type Recorder interface {
	RecordWebhookDelivery(event, result string)
}

// Config はWebhook受信の設定。
type Config struct {
	Secret    string
	Owner     string
	Repo      string
	NotesPath string
	Cooldown  time.Duration
}

// Delivery は1件のWebhook配信。
type Delivery struct {
	Event      string
	DeliveryID string
	Signature  string // X-Hub-Signature-256 を優先し、無ければ X-Hub-Signature
	Body       []byte
}

// Response は受理したWebhookへの応答。
type Response struct {
	Status int
	Body   map[string]any
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// Intake はWebhookを検証し、必要に応じてバックグラウンド同期を起動する。
type Intake struct {
	cfg      Config
	syncer   Syncer
	locker   lease.Locker
	recorder Recorder
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewIntake はIntakeを生成する。recorderはnilでもよい。
func NewIntake(cfg Config, syncer Syncer, locker lease.Locker, recorder Recorder, logger *slog.Logger) *Intake {
	cfg.NotesPath = strings.TrimLeft(cfg.NotesPath, "/")
	if cfg.NotesPath == "" {
		cfg.NotesPath = "notes/"
	}
	return &Intake{cfg: cfg, syncer: syncer, locker: locker, recorder: recorder, logger: logger}
}

// Handle は配信を処理する。検証に失敗した場合は*model.APIErrorを返す。
func (in *Intake) Handle(ctx context.Context, d Delivery) (*Response, error) {
	event := d.Event
	if event == "" {
		event = "unknown"
	}

	resp, err := in.handle(ctx, event, d)
	if in.recorder != nil {
		result := "ok"
		switch {
		case err != nil:
			result = "rejected"
		case resp.Body["scheduled"] == true:
			result = "scheduled"
		case resp.Body["reason"] == "cooldown":
			result = "cooldown"
		}
		in.recorder.RecordWebhookDelivery(event, result)
	}
	return resp, err
}

func (in *Intake) handle(ctx context.Context, event string, d Delivery) (*Response, error) {
	if in.cfg.Secret == "" {
		in.logger.Error("GITHUB_WEBHOOK_SECRET is not configured")
		return nil, model.NewWebhookNotConfiguredError("GITHUB_WEBHOOK_SECRET")
	}
	if d.Signature == "" {
		return nil, model.NewInvalidInputError("署名ヘッダーがありません")
	}
	if !VerifySignature(in.cfg.Secret, d.Body, d.Signature) {
		in.logger.Warn("Webhookの署名検証に失敗しました", slog.String("delivery", d.DeliveryID))
		return nil, model.NewInvalidSignatureError()
	}

	var payload pushPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return nil, model.NewInvalidInputError("JSONペイロードが不正です")
	}

	in.logger.Info("Webhookを受信しました",
		slog.String("event", event),
		slog.String("delivery", d.DeliveryID),
	)

	var repoFullName string
	if payload.Repository != nil {
		repoFullName = payload.Repository.FullName
	}
	if in.cfg.Owner != "" && in.cfg.Repo != "" && repoFullName != "" {
		expected := in.cfg.Owner + "/" + in.cfg.Repo
		if !strings.EqualFold(repoFullName, expected) {
			in.logger.Warn("Webhookのリポジトリが一致しません",
				slog.String("got", repoFullName),
				slog.String("expected", expected),
			)
			return nil, model.NewInvalidInputError("リポジトリが一致しません")
		}
	}

	switch event {
	case "push":
		return in.handlePush(ctx, event, repoFullName, &payload), nil
	case "ping":
		return &Response{Status: http.StatusOK, Body: map[string]any{"ok": true, "event": "ping"}}, nil
	default:
		return &Response{Status: http.StatusOK, Body: map[string]any{"ok": true, "event": event, "scheduled": false}}, nil
	}
}

func (in *Intake) handlePush(ctx context.Context, event, repoFullName string, payload *pushPayload) *Response {
	changed := changedPaths(payload)
	branch := branchFromRef(payload.Ref)

	var touched []string
	if len(changed) > 0 {
		touched = in.touchedNotes(changed)
		if len(touched) == 0 {
			in.logger.Info("ノート配下の変更が無いため同期しません", slog.Int("changed_files", len(changed)))
			return &Response{Status: http.StatusOK, Body: map[string]any{
				"ok": true, "event": event, "scheduled": false, "changed_files": len(changed),
			}}
		}
	}

	repoID := repoFullName
	if repoID == "" {
		repoID = in.cfg.Owner + "/" + in.cfg.Repo
	}
	if !in.cooldownAllows(ctx, repoID+":"+branch) {
		return &Response{Status: http.StatusOK, Body: map[string]any{
			"ok": true, "event": event, "scheduled": false, "reason": "cooldown",
		}}
	}

	in.schedule(branch)

	body := map[string]any{"ok": true, "event": event, "scheduled": true, "branch": branch}
	if touched != nil {
		body["touched_files"] = touched
	}
	return &Response{Status: http.StatusAccepted, Body: body}
}

// cooldownAllows はリースを取得できた場合にtrueを返す。
// リースの取得自体に失敗した場合は同期を止めない。
func (in *Intake) cooldownAllows(ctx context.Context, key string) bool {
	ok, err := in.locker.TryAcquire(ctx, key, in.cfg.Cooldown)
	if err != nil {
		in.logger.Warn("クールダウンの確認に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		return true
	}
	if !ok {
		in.logger.Info("クールダウン中のため同期を予約しません", slog.String("key", key))
	}
	return ok
}

// schedule はリクエストとは独立したコンテキストで同期を実行する。
func (in *Intake) schedule(branch string) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		in.logger.Info("バックグラウンド同期を開始します", slog.String("branch", branch), slog.String("path", in.cfg.NotesPath))
		res, err := in.syncer.Sync(ctx, branch, in.cfg.NotesPath)
		if err != nil {
			in.logger.Error("バックグラウンド同期に失敗しました", slog.String("branch", branch), slog.String("error", err.Error()))
			return
		}
		in.logger.Info("バックグラウンド同期が完了しました",
			slog.String("branch", branch),
			slog.Int("upserted", res.Upserted),
			slog.Int("failed", len(res.Failed)),
		)
	}()
}

// Wait は実行中のバックグラウンド同期の終了を待つ。
func (in *Intake) Wait() {
	in.wg.Wait()
}

// touchedNotes は変更パスのうちノート配下のものを返す。プレフィックスのフォルダ自体も含める。
func (in *Intake) touchedNotes(changed []string) []string {
	prefix := in.cfg.NotesPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	folder := strings.TrimSuffix(prefix, "/")

	var hits []string
	for _, p := range changed {
		if strings.HasPrefix(p, prefix) || p == folder {
			hits = append(hits, p)
		}
	}
	return hits
}

func changedPaths(payload *pushPayload) []string {
	set := map[string]struct{}{}
	add := func(paths []string) {
		for _, p := range paths {
			p = strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
			if p != "" {
				set[p] = struct{}{}
			}
		}
	}
	for _, c := range payload.Commits {
		add(c.Added)
		add(c.Modified)
		add(c.Removed)
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func branchFromRef(ref string) string {
	if b, ok := strings.CutPrefix(ref, "refs/heads/"); ok && b != "" {
		return b
	}
	return defaultBranch
}
