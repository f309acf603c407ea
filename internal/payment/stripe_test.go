package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type mockSessions struct {
	newFn func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (m *mockSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return m.newFn(params)
}

func newTestBackend(sessions checkoutSessions) *StripeBackend {
	return newStripeBackend(sessions, StripeConfig{
		WebhookSecret: testWebhookSecret,
		ReturnURL:     "https://example.com/payment-success",
	})
}

func signedPayload(t *testing.T, body string) (payload []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(body),
		Secret:  testWebhookSecret,
	})
	return signed.Payload, signed.Header
}

func TestCreateCheckout_BuildsSessionParams(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	b := newTestBackend(&mockSessions{newFn: func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
	}})

	co, err := b.CreateCheckout(context.Background(), CheckoutRequest{Slug: "intro", PriceCents: 500, BuyerEmail: "a@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if co.SessionID != "cs_test_1" || co.URL != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Errorf("checkout = %+v", co)
	}

	if *got.Mode != string(stripe.CheckoutSessionModePayment) {
		t.Errorf("Mode = %q, want payment", *got.Mode)
	}
	if len(got.LineItems) != 1 {
		t.Fatalf("LineItems = %d, want 1", len(got.LineItems))
	}
	pd := got.LineItems[0].PriceData
	if *pd.UnitAmount != 500 || *pd.Currency != "usd" {
		t.Errorf("price = %d %s, want 500 usd", *pd.UnitAmount, *pd.Currency)
	}
	if *pd.ProductData.Name != "Access to note intro" {
		t.Errorf("product name = %q", *pd.ProductData.Name)
	}
	if got.Metadata["note_slug"] != "intro" || got.Metadata["buyer_email"] != "a@example.com" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.CustomerEmail == nil || *got.CustomerEmail != "a@example.com" {
		t.Errorf("CustomerEmail = %v, want a@example.com", got.CustomerEmail)
	}
	if want := "https://example.com/payment-success?status=success&session_id={CHECKOUT_SESSION_ID}"; *got.SuccessURL != want {
		t.Errorf("SuccessURL = %q, want %q", *got.SuccessURL, want)
	}
	if want := "https://example.com/payment-success?status=cancel"; *got.CancelURL != want {
		t.Errorf("CancelURL = %q, want %q", *got.CancelURL, want)
	}
}

func TestCreateCheckout_WithoutEmail_LeavesCustomerEmailUnset(t *testing.T) {
	var got *stripe.CheckoutSessionParams
	b := newTestBackend(&mockSessions{newFn: func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = p
		return &stripe.CheckoutSession{ID: "cs_test_2"}, nil
	}})

	if _, err := b.CreateCheckout(context.Background(), CheckoutRequest{Slug: "intro", PriceCents: 500}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.CustomerEmail != nil {
		t.Errorf("CustomerEmail = %q, want nil", *got.CustomerEmail)
	}
	if _, ok := got.Metadata["buyer_email"]; ok {
		t.Error("buyer_email metadata should be absent")
	}
}

func TestCreateCheckout_InvalidRequest(t *testing.T) {
	b := newTestBackend(&mockSessions{newFn: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		t.Fatal("Stripe APIを呼び出してはいけない")
		return nil, nil
	}})

	if _, err := b.CreateCheckout(context.Background(), CheckoutRequest{Slug: "free", PriceCents: 0}); err == nil {
		t.Error("expected error for zero price, got nil")
	}
}

func TestCreateCheckout_APIError(t *testing.T) {
	b := newTestBackend(&mockSessions{newFn: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("stripe: connection reset")
	}})

	_, err := b.CreateCheckout(context.Background(), CheckoutRequest{Slug: "intro", PriceCents: 500})
	if err == nil || !strings.Contains(err.Error(), "intro") {
		t.Errorf("err = %v, want wrapped error mentioning slug", err)
	}
}

func TestVerifyEvent_CheckoutCompleted(t *testing.T) {
	b := newTestBackend(nil)
	payload, header := signedPayload(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"customer_details": {"email": "buyer@example.com"},
			"metadata": {"note_slug": "intro", "buyer_email": "prefill@example.com"}
		}}
	}`)

	ev, err := b.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Type != EventCheckoutCompleted {
		t.Errorf("Type = %q, want %q", ev.Type, EventCheckoutCompleted)
	}
	if ev.SessionID != "cs_test_1" || ev.NoteSlug != "intro" {
		t.Errorf("event = %+v", ev)
	}
	if ev.BuyerEmail != "buyer@example.com" {
		t.Errorf("BuyerEmail = %q, want buyer@example.com", ev.BuyerEmail)
	}
}

func TestVerifyEvent_FallsBackToMetadataEmail(t *testing.T) {
	b := newTestBackend(nil)
	payload, header := signedPayload(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_2", "metadata": {"note_slug": "intro", "buyer_email": "prefill@example.com"}}}
	}`)

	ev, err := b.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.BuyerEmail != "prefill@example.com" {
		t.Errorf("BuyerEmail = %q, want prefill@example.com", ev.BuyerEmail)
	}
}

func TestVerifyEvent_OtherType(t *testing.T) {
	b := newTestBackend(nil)
	payload, header := signedPayload(t, `{"id":"evt_3","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`)

	ev, err := b.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Type != "payment_intent.created" || ev.SessionID != "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestVerifyEvent_BadSignature(t *testing.T) {
	b := newTestBackend(nil)
	payload, _ := signedPayload(t, `{"id":"evt_4","object":"event","type":"checkout.session.completed"}`)

	_, err := b.VerifyEvent(payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestVerifyEvent_NoSecret(t *testing.T) {
	b := newStripeBackend(nil, StripeConfig{})
	payload, header := signedPayload(t, `{"id":"evt_5","object":"event","type":"checkout.session.completed"}`)

	if _, err := b.VerifyEvent(payload, header); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestWithQuery(t *testing.T) {
	tests := []struct {
		base, query, want string
	}{
		{"https://example.com/done", "status=cancel", "https://example.com/done?status=cancel"},
		{"https://example.com/done?lang=ja", "status=cancel", "https://example.com/done?lang=ja&status=cancel"},
		{"", "status=cancel", ""},
	}
	for _, tt := range tests {
		if got := withQuery(tt.base, tt.query); got != tt.want {
			t.Errorf("withQuery(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
