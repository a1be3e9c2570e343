package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pilot-net/alert-relay/internal/config"
	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/types"
)

var errTestInvalid = fmt.Errorf("wrapped: %w", config.ErrInvalidConfig)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConfigService struct {
	mu       sync.Mutex
	cfg      types.Config
	reloadN  int
	reloadErr error
	pushErr  error
}

func (f *fakeConfigService) Reload(ctx context.Context) (int, error) {
	return f.reloadN, f.reloadErr
}

func (f *fakeConfigService) Snapshot() types.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(types.Config, len(f.cfg))
	for k, v := range f.cfg {
		out[k] = v
	}
	return out
}

func (f *fakeConfigService) Push(ctx context.Context, raw any) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = types.Config{"pushed": {ChannelID: "chan-pushed"}}
	return nil
}

type fakeGuideStore struct {
	mu     sync.Mutex
	guides map[string]types.TroubleshootingGuide
}

func newFakeGuideStore() *fakeGuideStore {
	return &fakeGuideStore{guides: map[string]types.TroubleshootingGuide{}}
}

func (f *fakeGuideStore) GetGuide(ctx context.Context, ruleName string) (*types.TroubleshootingGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guides[ruleName]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *fakeGuideStore) ListGuides(ctx context.Context) ([]types.TroubleshootingGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.TroubleshootingGuide, 0, len(f.guides))
	for _, g := range f.guides {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeGuideStore) PutGuide(ctx context.Context, g types.TroubleshootingGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guides[g.RuleName] = g
	return nil
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s := NewServer(&fakeConfigService{}, newFakeGuideStore(), metrics.New(), "secret-token", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestOtherEndpointsRequireBearerToken(t *testing.T) {
	s := NewServer(&fakeConfigService{}, newFakeGuideStore(), metrics.New(), "secret-token", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/get-config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with no Authorization header", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/get-config", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid token", rec.Code)
	}
}

func TestNoAuthConfiguredAllowsAllRequests(t *testing.T) {
	s := NewServer(&fakeConfigService{}, newFakeGuideStore(), metrics.New(), "", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/get-config", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no bearer token is configured", rec.Code)
	}
}

func TestPushConfigValidationErrorReturns400(t *testing.T) {
	cfgSvc := &fakeConfigService{pushErr: errTestInvalid}
	s := NewServer(cfgSvc, newFakeGuideStore(), metrics.New(), "", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/push-config", bytes.NewBufferString(`{"a":{"channelId":"c"}}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPushConfigSuccessReturns200(t *testing.T) {
	cfgSvc := &fakeConfigService{}
	s := NewServer(cfgSvc, newFakeGuideStore(), metrics.New(), "", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/push-config", bytes.NewBufferString(`{"a":{"channelId":"c"}}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]bool
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if !body["ok"] {
		t.Fatal("expected ok:true")
	}
}

func TestTroubleshootingGuideRoundTrip(t *testing.T) {
	guides := newFakeGuideStore()
	s := NewServer(&fakeConfigService{}, guides, metrics.New(), "", testLogger())

	putBody := `{"alertType":"high-cpu","content":"check the dashboard"}`
	req := httptest.NewRequest(http.MethodPost, "/troubleshooting-guide", bytes.NewBufferString(putBody))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/troubleshooting-guide?alertType=high-cpu", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
}

func TestTroubleshootingGuidePostWithNoDatabaseReturns503(t *testing.T) {
	s := NewServer(&fakeConfigService{}, nil, metrics.New(), "", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/troubleshooting-guide", bytes.NewBufferString(`{"alertType":"x","content":"y"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
