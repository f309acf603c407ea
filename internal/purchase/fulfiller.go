// Package purchase は決済完了イベントを受けて購入者にアクセス権を付与する。
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/notegate/internal/auth"
	"github.com/hitoshi/notegate/internal/delivery"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/repository"
)

// DefaultTokenTTL は購入トークンの既定の有効期間。
const DefaultTokenTTL = 14 * 24 * time.Hour

// Ledger は購入台帳。
type Ledger interface {
	Insert(ctx context.Context, p *model.Purchase) error
}

// Subscriptions は購読フラグの更新先。
type Subscriptions interface {
	MarkSubscribedByEmail(ctx context.Context, email string) (int64, error)
}

// TokenIssuer はスコープ付きトークンの発行者。
type TokenIssuer interface {
	Issue(subject string, scopes []string, ttl time.Duration, opts ...auth.IssueOption) (string, error)
}

// NoteFinder はメール添付用にノートを取得する。
type NoteFinder interface {
	FindBySlug(ctx context.Context, slug string) (*model.Note, error)
}

// Zipper はノートのzipを生成する。
type Zipper interface {
	Zip(ctx context.Context, note *model.Note) ([]byte, error)
}

// Recorder は購入処理の結果を記録する。
type Recorder interface {
	RecordFulfillment(result string)
}

// Result は購入処理の結果。
type Result struct {
	Token            string
	AlreadyProcessed bool
}

// Config は購入処理の設定。
type Config struct {
	TokenTTL        time.Duration
	EmailOnPurchase bool
}

// Fulfiller は決済完了後の台帳記録・購読付与・トークン発行・メール送信を行う。
type Fulfiller struct {
	ledger   Ledger
	users    Subscriptions
	tokens   TokenIssuer
	notes    NoteFinder
	zipper   Zipper
	notifier delivery.Notifier
	recorder Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	wg       sync.WaitGroup
}

// Option はFulfillerの任意設定。
type Option func(*Fulfiller)

// WithEmailDelivery は購入時にzipをメール送信する設定を追加する。
func WithEmailDelivery(notes NoteFinder, zipper Zipper, notifier delivery.Notifier) Option {
	return func(f *Fulfiller) {
		f.notes = notes
		f.zipper = zipper
		f.notifier = notifier
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(f *Fulfiller) { f.recorder = r }
}

// NewFulfiller はFulfillerを生成する。
func NewFulfiller(ledger Ledger, users Subscriptions, tokens TokenIssuer, cfg Config, logger *slog.Logger, opts ...Option) *Fulfiller {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	f := &Fulfiller{
		ledger: ledger,
		users:  users,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnPaymentCompleted は決済完了を処理する。
// 同一の決済セッションが再送された場合はエラーにせずAlreadyProcessedを返す。
func (f *Fulfiller) OnPaymentCompleted(ctx context.Context, sessionID, buyerEmail, noteSlug string) (*Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	buyerEmail = auth.NormalizeEmail(buyerEmail)
	noteSlug = strings.TrimSpace(noteSlug)

	switch {
	case sessionID == "":
		f.record("invalid")
		return nil, model.NewInvalidInputError("決済セッションIDがありません")
	case buyerEmail == "":
		f.record("invalid")
		return nil, model.NewInvalidInputError("購入者のメールアドレスがありません")
	case noteSlug == "":
		f.record("invalid")
		return nil, model.NewInvalidInputError("ノートのslugがありません")
	}

	// 台帳への記録は最後。途中で失敗した場合は行を残さず、再送で最初からやり直す。
	if _, err := f.users.MarkSubscribedByEmail(ctx, buyerEmail); err != nil {
		f.record("error")
		return nil, fmt.Errorf("failed to mark subscription: %w", err)
	}

	token, err := f.tokens.Issue(buyerEmail, []string{model.DownloadNoteScope(noteSlug)}, f.cfg.TokenTTL, auth.WithEmail(buyerEmail))
	if err != nil {
		f.record("error")
		return nil, fmt.Errorf("failed to issue purchase token: %w", err)
	}

	err = f.ledger.Insert(ctx, &model.Purchase{
		ID:               f.newID(),
		Email:            buyerEmail,
		NoteSlug:         noteSlug,
		PaymentSessionID: sessionID,
		Status:           model.PurchaseStatusPaid,
		PurchasedAt:      f.now(),
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		f.logger.Info("決済セッションは処理済みです", slog.String("session_id", sessionID))
		f.record("duplicate")
		return &Result{AlreadyProcessed: true}, nil
	}
	if err != nil {
		f.record("error")
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	f.logger.Info("購入を処理しました",
		slog.String("session_id", sessionID),
		slog.String("slug", noteSlug),
	)

	if f.cfg.EmailOnPurchase && f.notifier != nil {
		// 送信はWebhookの応答後に完了する
		sendCtx := context.WithoutCancel(ctx)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.sendBundle(sendCtx, buyerEmail, noteSlug)
		}()
	}

	f.record("ok")
	return &Result{Token: token}, nil
}

// Wait は送信中の購入メールの完了を待つ。
func (f *Fulfiller) Wait() {
	f.wg.Wait()
}

// sendBundle は購入したノートのzipを送信する。失敗はログのみ。
func (f *Fulfiller) sendBundle(ctx context.Context, email, slug string) {
	note, err := f.notes.FindBySlug(ctx, slug)
	if err != nil || note == nil {
		f.logger.Warn("メール添付用のノートを取得できませんでした", slog.String("slug", slug))
		return
	}

	data, err := f.zipper.Zip(ctx, note)
	if err != nil {
		f.logger.Warn("メール添付用のzip生成に失敗しました", slog.String("slug", slug), slog.String("error", err.Error()))
		return
	}

	err = f.notifier.Send(ctx, delivery.Message{
		To:      email,
		Subject: "Your purchase: " + slug,
		Body:    fmt.Sprintf("Thanks for purchasing %q. The note and its assets are attached.\n", note.Title),
		Attachments: []delivery.Attachment{
			{Filename: slug + ".zip", ContentType: "application/zip", Data: data},
		},
	})
	if err != nil {
		f.logger.Warn("購入メールの送信に失敗しました", slog.String("slug", slug), slog.String("error", err.Error()))
	}
}

func (f *Fulfiller) record(result string) {
	if f.recorder != nil {
		f.recorder.RecordFulfillment(result)
	}
}
