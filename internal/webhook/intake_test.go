package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/notegate/internal/lease"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/notesync"
)

const testSecret = "webhook-secret"

// --- モック定義 ---

type syncCall struct {
	ref    string
	prefix string
}

type mockSyncer struct {
	mu     sync.Mutex
	calls  []syncCall
	syncFn func(ctx context.Context, ref, prefix string) (*notesync.Result, error)
}

func (m *mockSyncer) Sync(ctx context.Context, ref, prefix string) (*notesync.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, syncCall{ref: ref, prefix: prefix})
	m.mu.Unlock()
	if m.syncFn != nil {
		return m.syncFn(ctx, ref, prefix)
	}
	return &notesync.Result{}, nil
}

func (m *mockSyncer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockLocker struct {
	tryAcquireFn func(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

func (m *mockLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.tryAcquireFn(ctx, key, ttl)
}

type mockRecorder struct {
	mu      sync.Mutex
	results []string
}

func (m *mockRecorder) RecordWebhookDelivery(event, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, event+":"+result)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIntake(syncer Syncer, locker lease.Locker, rec Recorder) *Intake {
	return NewIntake(Config{
		Secret:    testSecret,
		Owner:     "acme",
		Repo:      "notes",
		NotesPath: "notes/",
		Cooldown:  10 * time.Second,
	}, syncer, locker, rec, discardLogger())
}

func signedDelivery(event, body string) Delivery {
	return Delivery{
		Event:      event,
		DeliveryID: "d-1",
		Signature:  Sign(testSecret, []byte(body)),
		Body:       []byte(body),
	}
}

const pushTouchingNotes = `{
	"ref": "refs/heads/main",
	"repository": {"full_name": "acme/notes"},
	"commits": [
		{"added": ["notes/intro.md"], "modified": ["README.md"], "removed": []},
		{"added": [], "modified": ["\\notes\\img\\a.png"], "removed": []}
	]
}`

// --- テスト ---

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"zen":"ok"}`)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"sha256一致", Sign(testSecret, body), true},
		{"sha1不一致", "sha1=" + "3a0f5b9c0b8f0cf4d7b1f0e84e8b5d0f9c7e1b2a", false},
		{"別シークレット", Sign("other", body), false},
		{"未対応アルゴリズム", "md5=abcd", false},
		{"区切り無し", "abcdef", false},
		{"16進でない", "sha256=zzzz", false},
		{"空", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(testSecret, body, tt.header); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifySignature_LegacySHA1(t *testing.T) {
	body := []byte("payload")
	header := sha1Header(testSecret, body)
	if !VerifySignature(testSecret, body, header) {
		t.Error("sha1署名が検証できません")
	}
}

func TestHandle_NoSecret_ReturnsUpstreamUnavailable(t *testing.T) {
	in := NewIntake(Config{}, &mockSyncer{}, lease.NewMemoryLocker(), nil, discardLogger())

	_, err := in.Handle(context.Background(), signedDelivery("push", "{}"))
	if model.KindOf(err) != model.KindUpstreamUnavailable {
		t.Errorf("KindOf(err) = %v, want %v", model.KindOf(err), model.KindUpstreamUnavailable)
	}
}

func TestHandle_MissingSignature_ReturnsValidation(t *testing.T) {
	in := newTestIntake(&mockSyncer{}, lease.NewMemoryLocker(), nil)

	d := signedDelivery("push", "{}")
	d.Signature = ""
	_, err := in.Handle(context.Background(), d)
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("KindOf(err) = %v, want %v", model.KindOf(err), model.KindValidation)
	}
}

func TestHandle_BadSignature_ReturnsForbidden(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	d := signedDelivery("push", pushTouchingNotes)
	d.Signature = Sign("wrong-secret", d.Body)
	_, err := in.Handle(context.Background(), d)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeInvalidSignature {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidSignature)
	}
	in.Wait()
	if syncer.callCount() != 0 {
		t.Error("署名不正のWebhookで同期してはいけない")
	}
}

func TestHandle_InvalidJSON_ReturnsValidation(t *testing.T) {
	in := newTestIntake(&mockSyncer{}, lease.NewMemoryLocker(), nil)

	_, err := in.Handle(context.Background(), signedDelivery("push", "{not json"))
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("KindOf(err) = %v, want %v", model.KindOf(err), model.KindValidation)
	}
}

func TestHandle_RepositoryMismatch_ReturnsValidation(t *testing.T) {
	in := newTestIntake(&mockSyncer{}, lease.NewMemoryLocker(), nil)

	body := `{"ref":"refs/heads/main","repository":{"full_name":"someone/else"}}`
	_, err := in.Handle(context.Background(), signedDelivery("push", body))
	if model.KindOf(err) != model.KindValidation {
		t.Errorf("KindOf(err) = %v, want %v", model.KindOf(err), model.KindValidation)
	}
}

func TestHandle_RepositoryNameIsCaseInsensitive(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	body := `{"ref":"refs/heads/main","repository":{"full_name":"ACME/Notes"}}`
	resp, err := in.Handle(context.Background(), signedDelivery("push", body))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()
	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
}

func TestHandle_Ping(t *testing.T) {
	in := newTestIntake(&mockSyncer{}, lease.NewMemoryLocker(), nil)

	resp, err := in.Handle(context.Background(), signedDelivery("ping", `{"zen":"Keep it simple."}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusOK)
	}
	if resp.Body["event"] != "ping" {
		t.Errorf("event = %v, want ping", resp.Body["event"])
	}
}

func TestHandle_OtherEvent_NotScheduled(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	resp, err := in.Handle(context.Background(), signedDelivery("issues", `{}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Status != http.StatusOK || resp.Body["scheduled"] != false {
		t.Errorf("resp = %+v, want 200 scheduled=false", resp)
	}
	in.Wait()
	if syncer.callCount() != 0 {
		t.Error("push以外のイベントで同期してはいけない")
	}
}

func TestHandle_Push_SchedulesSyncForTouchedNotes(t *testing.T) {
	syncer := &mockSyncer{}
	rec := &mockRecorder{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), rec)

	resp, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()

	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
	if resp.Body["branch"] != "main" {
		t.Errorf("branch = %v, want main", resp.Body["branch"])
	}
	wantTouched := []string{"notes/img/a.png", "notes/intro.md"}
	if !reflect.DeepEqual(resp.Body["touched_files"], wantTouched) {
		t.Errorf("touched_files = %v, want %v", resp.Body["touched_files"], wantTouched)
	}

	if syncer.callCount() != 1 {
		t.Fatalf("Sync call count = %d, want 1", syncer.callCount())
	}
	if got := syncer.calls[0]; got.ref != "main" || got.prefix != "notes/" {
		t.Errorf("Sync(%q, %q), want (main, notes/)", got.ref, got.prefix)
	}
	if !reflect.DeepEqual(rec.results, []string{"push:scheduled"}) {
		t.Errorf("recorded = %v", rec.results)
	}
}

func TestHandle_Push_NothingUnderNotes_NotScheduled(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	body := `{"ref":"refs/heads/main","commits":[{"modified":["README.md","docs/x.md"]}]}`
	resp, err := in.Handle(context.Background(), signedDelivery("push", body))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()

	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusOK)
	}
	if resp.Body["scheduled"] != false {
		t.Errorf("scheduled = %v, want false", resp.Body["scheduled"])
	}
	if resp.Body["changed_files"] != 2 {
		t.Errorf("changed_files = %v, want 2", resp.Body["changed_files"])
	}
	if syncer.callCount() != 0 {
		t.Error("ノート配下に変更が無い場合は同期してはいけない")
	}
}

func TestHandle_Push_NoPaths_SchedulesFullSync(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	resp, err := in.Handle(context.Background(), signedDelivery("push", `{"ref":"refs/heads/drafts"}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()

	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
	if _, ok := resp.Body["touched_files"]; ok {
		t.Error("全体同期ではtouched_filesを含めない")
	}
	if syncer.callCount() != 1 || syncer.calls[0].ref != "drafts" {
		t.Errorf("calls = %+v, want one sync of drafts", syncer.calls)
	}
}

func TestHandle_Push_NotesFolderItselfCounts(t *testing.T) {
	syncer := &mockSyncer{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	body := `{"ref":"refs/heads/main","commits":[{"removed":["notes"]}]}`
	resp, err := in.Handle(context.Background(), signedDelivery("push", body))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()
	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
}

func TestHandle_Push_CooldownSuppressesSecondSync(t *testing.T) {
	syncer := &mockSyncer{}
	rec := &mockRecorder{}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), rec)

	if _, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes)); err != nil {
		t.Fatalf("1回目: expected no error, got %v", err)
	}
	resp, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes))
	if err != nil {
		t.Fatalf("2回目: expected no error, got %v", err)
	}
	in.Wait()

	if resp.Status != http.StatusOK || resp.Body["reason"] != "cooldown" {
		t.Errorf("resp = %+v, want 200 reason=cooldown", resp)
	}
	if syncer.callCount() != 1 {
		t.Errorf("Sync call count = %d, want 1", syncer.callCount())
	}
	if !reflect.DeepEqual(rec.results, []string{"push:scheduled", "push:cooldown"}) {
		t.Errorf("recorded = %v", rec.results)
	}
}

func TestHandle_Push_LeaseKeyAndTTL(t *testing.T) {
	var gotKey string
	var gotTTL time.Duration
	locker := &mockLocker{tryAcquireFn: func(_ context.Context, key string, ttl time.Duration) (bool, error) {
		gotKey, gotTTL = key, ttl
		return true, nil
	}}
	in := newTestIntake(&mockSyncer{}, locker, nil)

	if _, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()

	if gotKey != "acme/notes:main" {
		t.Errorf("lease key = %q, want %q", gotKey, "acme/notes:main")
	}
	if gotTTL != 10*time.Second {
		t.Errorf("lease ttl = %v, want %v", gotTTL, 10*time.Second)
	}
}

func TestHandle_Push_LeaseErrorStillSchedules(t *testing.T) {
	syncer := &mockSyncer{}
	locker := &mockLocker{tryAcquireFn: func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("redis: connection refused")
	}}
	in := newTestIntake(syncer, locker, nil)

	resp, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()
	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
	if syncer.callCount() != 1 {
		t.Errorf("Sync call count = %d, want 1", syncer.callCount())
	}
}

func TestHandle_Push_SyncErrorIsNotSurfaced(t *testing.T) {
	syncer := &mockSyncer{syncFn: func(context.Context, string, string) (*notesync.Result, error) {
		return nil, errors.New("upstream down")
	}}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	resp, err := in.Handle(context.Background(), signedDelivery("push", pushTouchingNotes))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	in.Wait()
	if resp.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusAccepted)
	}
}

func TestHandle_Push_SyncOutlivesRequestContext(t *testing.T) {
	started := make(chan struct{})
	syncer := &mockSyncer{syncFn: func(ctx context.Context, _, _ string) (*notesync.Result, error) {
		<-started
		return &notesync.Result{}, ctx.Err()
	}}
	in := newTestIntake(syncer, lease.NewMemoryLocker(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := in.Handle(ctx, signedDelivery("push", pushTouchingNotes)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cancel()
	close(started)
	in.Wait()
	if syncer.callCount() != 1 {
		t.Errorf("Sync call count = %d, want 1", syncer.callCount())
	}
}

func TestBranchFromRef(t *testing.T) {
	tests := map[string]string{
		"refs/heads/main":      "main",
		"refs/heads/feature/x": "feature/x",
		"refs/tags/v1":         "main",
		"":                     "main",
	}
	for ref, want := range tests {
		if got := branchFromRef(ref); got != want {
			t.Errorf("branchFromRef(%q) = %q, want %q", ref, got, want)
		}
	}
}
