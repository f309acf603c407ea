package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/notegate/internal/access"
	"github.com/hitoshi/notegate/internal/auth"
	"github.com/hitoshi/notegate/internal/middleware"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/notesync"
	"github.com/hitoshi/notegate/internal/payment"
	"github.com/hitoshi/notegate/internal/purchase"
	"github.com/hitoshi/notegate/internal/webhook"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, email, password string) (*model.User, error)
	loginFn    func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	meFn       func(ctx context.Context, claims *model.Claims) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Me(ctx context.Context, claims *model.Claims) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, claims)
	}
	return nil, errors.New("not implemented")
}

type mockNoteFinder struct {
	notes map[string]*model.Note
	err   error
}

func (m *mockNoteFinder) FindBySlug(ctx context.Context, slug string) (*model.Note, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.notes[slug], nil
}

func (m *mockNoteFinder) List(ctx context.Context) ([]*model.NoteSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*model.NoteSummary{}
	for _, n := range m.notes {
		out = append(out, &model.NoteSummary{Slug: n.Slug, Title: n.Title, Public: n.Public, PriceCents: n.PriceCents})
	}
	return out, nil
}

type mockDecider struct {
	decideFn func(ctx context.Context, req access.Request) (access.Decision, error)
	lastReq  access.Request
}

func (m *mockDecider) Decide(ctx context.Context, req access.Request) (access.Decision, error) {
	m.lastReq = req
	if m.decideFn != nil {
		return m.decideFn(ctx, req)
	}
	return access.Decision{Outcome: access.Granted, Grant: access.GrantFree}, nil
}

func decideAs(d access.Decision) *mockDecider {
	return &mockDecider{decideFn: func(ctx context.Context, req access.Request) (access.Decision, error) {
		return d, nil
	}}
}

type mockBundler struct {
	zipFn func(ctx context.Context, note *model.Note) ([]byte, error)
	pdfFn func(note *model.Note) ([]byte, error)
}

func (m *mockBundler) Zip(ctx context.Context, note *model.Note) ([]byte, error) {
	if m.zipFn != nil {
		return m.zipFn(ctx, note)
	}
	return []byte("PK-zip"), nil
}

func (m *mockBundler) PDF(note *model.Note) ([]byte, error) {
	if m.pdfFn != nil {
		return m.pdfFn(note)
	}
	return []byte("%PDF-1.3"), nil
}

type mockCheckouts struct {
	createFn func(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
	lastReq  payment.CheckoutRequest
}

func (m *mockCheckouts) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	m.lastReq = req
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return &payment.Checkout{URL: "https://checkout.example.com/cs_1", SessionID: "cs_1"}, nil
}

type mockVerifier struct {
	verifyFn func(payload []byte, header string) (*payment.Event, error)
}

func (m *mockVerifier) VerifyEvent(payload []byte, header string) (*payment.Event, error) {
	if m.verifyFn != nil {
		return m.verifyFn(payload, header)
	}
	return nil, payment.ErrInvalidEvent
}

type mockFulfiller struct {
	fulfillFn func(ctx context.Context, sessionID, buyerEmail, noteSlug string) (*purchase.Result, error)
	calls     int
}

func (m *mockFulfiller) OnPaymentCompleted(ctx context.Context, sessionID, buyerEmail, noteSlug string) (*purchase.Result, error) {
	m.calls++
	if m.fulfillFn != nil {
		return m.fulfillFn(ctx, sessionID, buyerEmail, noteSlug)
	}
	return &purchase.Result{Token: "purchase-token"}, nil
}

type mockIntake struct {
	handleFn func(ctx context.Context, d webhook.Delivery) (*webhook.Response, error)
	last     webhook.Delivery
}

func (m *mockIntake) Handle(ctx context.Context, d webhook.Delivery) (*webhook.Response, error) {
	m.last = d
	if m.handleFn != nil {
		return m.handleFn(ctx, d)
	}
	return &webhook.Response{Status: 200, Body: map[string]any{"ok": true}}, nil
}

type mockSyncer struct {
	syncFn  func(ctx context.Context, ref, prefix string) (*notesync.Result, error)
	calls   int
	lastRef string
}

func (m *mockSyncer) Sync(ctx context.Context, ref, prefix string) (*notesync.Result, error) {
	m.calls++
	m.lastRef = ref
	if m.syncFn != nil {
		return m.syncFn(ctx, ref, prefix)
	}
	return &notesync.Result{Upserted: 1, Failed: []notesync.Failure{}}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}
