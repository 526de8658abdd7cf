package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/action"
	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
	"github.com/nih-cfde/deriva-action-provider/internal/auth"
	"github.com/nih-cfde/deriva-action-provider/internal/config"
	"github.com/nih-cfde/deriva-action-provider/internal/controller"
	"github.com/nih-cfde/deriva-action-provider/internal/deriva"
)

// memStore backs the controller with an in-memory map for HTTP tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*action.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*action.Record{}}
}

func (m *memStore) Create(ctx context.Context, rec *action.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ActionID]; ok {
		return apierr.AlreadyExists("action %s already exists", rec.ActionID)
	}
	cp := *rec
	m.records[rec.ActionID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, actionID string) (*action.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[actionID]
	if !ok {
		return nil, apierr.NotFound("action %s not found in status database", actionID)
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) FindByRequestID(ctx context.Context, requestID string) (*action.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.RequestID == requestID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apierr.NotFound("request ID %q not found", requestID)
}

func (m *memStore) Merge(ctx context.Context, actionID string, update action.Update) (*action.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[actionID]
	if !ok {
		return nil, apierr.NotFound("action %s not found in status database", actionID)
	}
	rec.Apply(update)
	cp := *rec
	return &cp, nil
}

func (m *memStore) Delete(ctx context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[actionID]; !ok {
		return apierr.NotFound("action %s not found in status database", actionID)
	}
	delete(m.records, actionID)
	return nil
}

// noopDispatcher drops dispatches; HTTP tests drive status transitions
// through the store directly.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(params deriva.Params) {}

// tokenAuth maps static bearer tokens to identities.
type tokenAuth struct {
	tokens map[string]*auth.Identity
}

func (a *tokenAuth) Authenticate(ctx context.Context, bearerToken string) (*auth.Identity, error) {
	id, ok := a.tokens[bearerToken]
	if !ok {
		return nil, apierr.NoAuthentication("invalid or expired token")
	}
	return id, nil
}

func handlerTestConfig() *config.Config {
	return &config.Config{
		GlobusScope:         "https://auth.globus.org/scopes/demo/action_all",
		RunnableGroup:       "group-1",
		VisibleTo:           []string{auth.AllAuthenticatedUsers},
		DefaultReleaseAfter: 720 * time.Hour,
		EstimatedDuration:   24 * time.Hour,
		IngestDeadline:      time.Hour,
	}
}

func newTestServer(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	logger := zap.NewNop()
	cfg := handlerTestConfig()
	ctrl := controller.New(store, noopDispatcher{}, nil, cfg, logger)

	authn := &tokenAuth{tokens: map[string]*auth.Identity{
		"alice-token": {
			Identities:        []string{"urn:globus:auth:identity:alice"},
			EffectiveIdentity: "urn:globus:auth:identity:alice",
		},
		"bob-token": {
			Identities:        []string{"urn:globus:auth:identity:bob"},
			EffectiveIdentity: "urn:globus:auth:identity:bob",
		},
	}}

	r := gin.New()
	RegisterActionRoutes(r, HandlerConfig{
		Controller:    ctrl,
		Authenticator: authn,
		Config:        cfg,
		Logger:        logger,
	})
	return r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func runBody(requestID string) map[string]interface{} {
	return map[string]interface{}{
		"request_id": requestID,
		"body": map[string]interface{}{
			"operation": "ingest",
			"data_url":  "https://example.org/bag.zip",
		},
	}
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) action.View {
	t.Helper()
	var view action.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return view
}

func TestPing_NoAuthRequired(t *testing.T) {
	r, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/ping", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ping: %d %s", w.Code, w.Body.String())
	}
}

func TestRun_RejectsMissingToken(t *testing.T) {
	r, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/run", "", runBody("r1"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", w.Code, w.Body.String())
	}
}

func TestRun_AdmitsAndReplays(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/run", "alice-token", runBody("r1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	first := decodeView(t, w)
	if first.ActionID == "" || first.Status != action.StatusActive {
		t.Fatalf("unexpected admission view: %+v", first)
	}

	w = doJSON(t, r, http.MethodPost, "/run", "alice-token", runBody("r1"))
	if w.Code != http.StatusOK {
		t.Fatalf("replay should be 200, got %d %s", w.Code, w.Body.String())
	}
	if replay := decodeView(t, w); replay.ActionID != first.ActionID {
		t.Fatalf("replay returned different action: %s vs %s", replay.ActionID, first.ActionID)
	}
}

func TestRun_RejectsInvalidBody(t *testing.T) {
	r, _ := newTestServer(t)

	body := runBody("r1")
	body["body"].(map[string]interface{})["data_url"] = ""

	w := doJSON(t, r, http.MethodPost, "/run", "alice-token", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["code"] != string(apierr.CodeInvalidRequest) {
		t.Fatalf("unexpected error code %q", resp["code"])
	}
}

func TestStatus_EnforcesMonitorBy(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/run", "alice-token", runBody("r1"))
	view := decodeView(t, w)
	path := fmt.Sprintf("/%s/status", view.ActionID)

	if w := doJSON(t, r, http.MethodGet, path, "bob-token", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger poll should be 403, got %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, http.MethodGet, path, "alice-token", nil); w.Code != http.StatusOK {
		t.Fatalf("owner poll should be 200, got %d %s", w.Code, w.Body.String())
	}
}

func TestStatus_UnknownAction(t *testing.T) {
	r, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/does-not-exist/status", "alice-token", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestRelease_ConflictsWhileActive(t *testing.T) {
	r, store := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/run", "alice-token", runBody("r1"))
	view := decodeView(t, w)
	path := fmt.Sprintf("/%s/release", view.ActionID)

	if w := doJSON(t, r, http.MethodPost, path, "alice-token", nil); w.Code != http.StatusConflict {
		t.Fatalf("release of ACTIVE should be 409, got %d %s", w.Code, w.Body.String())
	}

	if _, err := store.Merge(context.Background(), view.ActionID, action.Update{Status: action.StatusSucceeded}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if w := doJSON(t, r, http.MethodPost, path, "alice-token", nil); w.Code != http.StatusOK {
		t.Fatalf("release of SUCCEEDED should be 200, got %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/%s/status", view.ActionID), "alice-token", nil); w.Code != http.StatusNotFound {
		t.Fatalf("released action should be 404, got %d", w.Code)
	}
}

func TestCancel_RoundTrip(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/run", "alice-token", runBody("r1"))
	view := decodeView(t, w)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/%s/cancel", view.ActionID), "alice-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel should be 200, got %d %s", w.Code, w.Body.String())
	}
	if got := decodeView(t, w); got.Status != action.StatusActive {
		t.Fatalf("no-op cancel must leave status ACTIVE, got %s", got.Status)
	}
}

func TestIntrospection_MetadataDocument(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/", "alice-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("introspection: %d %s", w.Code, w.Body.String())
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["globus_auth_scope"] != "https://auth.globus.org/scopes/demo/action_all" {
		t.Fatalf("scope missing from metadata: %+v", meta)
	}
	if meta["api_version"] != "1.0" {
		t.Fatalf("api_version missing: %+v", meta)
	}
}
