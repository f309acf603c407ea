// Package access はノートへのアクセス可否を判定する。
package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/notegate/internal/model"
)

// Outcome は判定結果の種別。
type Outcome int

const (
	// Denied はアクセス拒否。
	Denied Outcome = iota
	// Granted はアクセス許可。
	Granted
	// PurchaseRequired は購入すればアクセスできる状態。
	PurchaseRequired
)

// String はメトリクス・ログ用の名前を返す。
func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case PurchaseRequired:
		return "purchase_required"
	default:
		return "denied"
	}
}

// Grant はアクセスが許可された根拠。
type Grant string

const (
	GrantFree         Grant = "free"
	GrantScope        Grant = "scope"
	GrantSubscription Grant = "subscription"
)

// 拒否理由
const (
	ReasonAuthRequired      = "authentication required"
	ReasonBuyerUnidentified = "purchase requires identified buyer"
	ReasonAccessDenied      = "access denied"
)

// Request は判定の入力。
// Claimsは検証済みトークンのクレームで、トークンが無い・無効な場合はnil。
// BuyerEmailは未認証の呼び出し元が任意で指定する購入者メールアドレスで、チェックアウトの初期値になる。
type Request struct {
	Note       *model.Note
	Claims     *model.Claims
	BuyerEmail string
}

// Decision は判定結果。
type Decision struct {
	Outcome    Outcome
	Grant      Grant      // Granted の場合のみ
	Reason     string     // Denied の場合のみ
	Kind       model.Kind // Denied の場合のみ: KindUnauthenticated または KindForbidden
	PriceCents int        // PurchaseRequired の場合のみ
	BuyerEmail string     // PurchaseRequired の場合のみ
}

// Err は拒否の場合に対応するAPIErrorを返す。それ以外はnil。
func (d Decision) Err(slug string) error {
	if d.Outcome != Denied {
		return nil
	}
	switch {
	case d.Kind == model.KindUnauthenticated:
		return model.NewUnauthenticatedError()
	case d.Reason == ReasonBuyerUnidentified:
		return model.NewBuyerUnidentifiedError()
	default:
		return model.NewAccessDeniedError(slug)
	}
}

// UserLookup は購読状態の確認に使うユーザー検索。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// DecisionRecorder は判定結果を記録する。
type DecisionRecorder interface {
	RecordAccessDecision(outcome string)
}

// Engine はアクセス判定エンジン。状態を変更しないため並行利用できる。
type Engine struct {
	users           UserLookup
	paymentsEnabled bool
	recorder        DecisionRecorder
}

// NewEngine はEngineを生成する。recorderはnilでもよい。
func NewEngine(users UserLookup, paymentsEnabled bool, recorder DecisionRecorder) *Engine {
	return &Engine{users: users, paymentsEnabled: paymentsEnabled, recorder: recorder}
}

// Decide はアクセス可否を判定する。エラーはユーザー検索の失敗時のみ返す。
func (e *Engine) Decide(ctx context.Context, req Request) (Decision, error) {
	d, err := e.decide(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if e.recorder != nil {
		e.recorder.RecordAccessDecision(d.Outcome.String())
	}
	return d, nil
}

func (e *Engine) decide(ctx context.Context, req Request) (Decision, error) {
	note := req.Note
	if note == nil {
		return Decision{}, fmt.Errorf("note is required")
	}

	if note.Public && note.PriceCents == 0 {
		return Decision{Outcome: Granted, Grant: GrantFree}, nil
	}

	claims := req.Claims
	if claims == nil {
		// 未認証の購入者はチェックアウト画面でメールアドレスを入力する
		if note.PriceCents > 0 && e.paymentsEnabled {
			return purchase(note, req.BuyerEmail), nil
		}
		return Decision{Outcome: Denied, Reason: ReasonAuthRequired, Kind: model.KindUnauthenticated}, nil
	}

	if claims.GrantsNote(note.Slug) {
		return Decision{Outcome: Granted, Grant: GrantScope}, nil
	}

	user, err := e.lookupSubject(ctx, claims.Subject)
	if err != nil {
		return Decision{}, err
	}
	if user != nil && user.IsSubscribed {
		return Decision{Outcome: Granted, Grant: GrantSubscription}, nil
	}

	if note.PriceCents > 0 {
		buyer := claims.Email
		if buyer == "" && user != nil {
			buyer = user.Email
		}
		if buyer == "" {
			return Decision{Outcome: Denied, Reason: ReasonBuyerUnidentified, Kind: model.KindForbidden}, nil
		}
		return purchase(note, buyer), nil
	}

	return Decision{Outcome: Denied, Reason: ReasonAccessDenied, Kind: model.KindForbidden}, nil
}

// lookupSubject はsubjectに対応するユーザーを最大1回だけ検索する。
// UUIDはID、"@"を含むものはメールアドレスとして扱い、どちらでもなければ検索しない。
func (e *Engine) lookupSubject(ctx context.Context, subject string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	switch {
	case isUUID(subject):
		user, err = e.users.FindByID(ctx, subject)
	case strings.Contains(subject, "@"):
		user, err = e.users.FindByEmail(ctx, subject)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up subject: %w", err)
	}
	return user, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func purchase(note *model.Note, buyer string) Decision {
	return Decision{Outcome: PurchaseRequired, PriceCents: note.PriceCents, BuyerEmail: buyer}
}
