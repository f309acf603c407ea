// Package payment は決済バックエンド（Stripe Checkout）との連携を提供する。
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// EventCheckoutCompleted は決済完了を表すStripeのイベント種別。
const EventCheckoutCompleted = "checkout.session.completed"

// ErrInvalidEvent は署名検証またはペイロードの解析に失敗した場合に返される。
var ErrInvalidEvent = errors.New("invalid payment event")

// CheckoutRequest はチェックアウト作成の入力。
type CheckoutRequest struct {
	Slug       string
	PriceCents int
	BuyerEmail string // 任意。空の場合はチェックアウト画面で入力させる
}

// Checkout は作成されたチェックアウトセッション。
type Checkout struct {
	URL       string
	SessionID string
}

// Event は検証済みの決済イベント。
type Event struct {
	ID         string
	Type       string
	SessionID  string
	BuyerEmail string
	NoteSlug   string
}

// Backend は決済バックエンドのインターフェース。
type Backend interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}

// checkoutSessions はStripeのチェックアウトセッションAPIのうち使用する部分。
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig はStripe連携の設定。
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ReturnURL     string
	Currency      string
}

// StripeBackend はStripe Checkoutを使った決済バックエンド。
type StripeBackend struct {
	sessions      checkoutSessions
	webhookSecret string
	returnURL     string
	currency      string
}

// NewStripeBackend はStripeBackendを生成する。
func NewStripeBackend(cfg StripeConfig) *StripeBackend {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newStripeBackend(sc.CheckoutSessions, cfg)
}

func newStripeBackend(sessions checkoutSessions, cfg StripeConfig) *StripeBackend {
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &StripeBackend{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		returnURL:     cfg.ReturnURL,
		currency:      currency,
	}
}

// CreateCheckout は指定ノートを1件購入するチェックアウトセッションを作成する。
func (b *StripeBackend) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.Slug == "" || req.PriceCents <= 0 {
		return nil, fmt.Errorf("invalid checkout request for %q: price %d", req.Slug, req.PriceCents)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(b.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Access to note " + req.Slug),
					},
					UnitAmount: stripe.Int64(int64(req.PriceCents)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(withQuery(b.returnURL, "status=success&session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:  stripe.String(withQuery(b.returnURL, "status=cancel")),
	}
	params.Context = ctx
	params.AddMetadata("note_slug", req.Slug)
	if req.BuyerEmail != "" {
		params.AddMetadata("buyer_email", req.BuyerEmail)
		params.CustomerEmail = stripe.String(req.BuyerEmail)
	}

	s, err := b.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session for %s: %w", req.Slug, err)
	}
	return &Checkout{URL: s.URL, SessionID: s.ID}, nil
}

// sessionObject はcheckout.session.completedのdata.objectのうち使用する項目。
type sessionObject struct {
	ID              string `json:"id"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// VerifyEvent はStripe-Signatureヘッダーを検証し、イベントを復元する。
// checkout.session.completed以外のイベントはType以外の項目が空になる。
func (b *StripeBackend) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	if b.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", ErrInvalidEvent)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, b.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted || ev.Data == nil {
		return out, nil
	}

	var obj sessionObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: failed to decode checkout session: %v", ErrInvalidEvent, err)
	}
	out.SessionID = obj.ID
	out.NoteSlug = obj.Metadata["note_slug"]

	// チェックアウト画面で入力されたメールアドレスを優先する
	switch {
	case obj.CustomerDetails != nil && obj.CustomerDetails.Email != "":
		out.BuyerEmail = obj.CustomerDetails.Email
	case obj.CustomerEmail != "":
		out.BuyerEmail = obj.CustomerEmail
	default:
		out.BuyerEmail = obj.Metadata["buyer_email"]
	}
	return out, nil
}

func withQuery(base, query string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if u, err := url.Parse(base); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return base + sep + query
}

var _ Backend = (*StripeBackend)(nil)
