package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/api/middleware"
	"github.com/partnerhubhq/partnerhub-backend/internal/approvals"
	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	"github.com/partnerhubhq/partnerhub-backend/pkg/idempotency"
	"github.com/partnerhubhq/partnerhub-backend/pkg/outbox"
	"github.com/partnerhubhq/partnerhub-backend/pkg/retry"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type approvalsTestEnv struct {
	db     *gorm.DB
	router chi.Router
	tenant uuid.UUID
	user   uuid.UUID
}

func newApprovalsTestEnv(t *testing.T) *approvalsTestEnv {
	t.Helper()

	dsn := "file:controllers_approvals_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	statements := []string{`
CREATE TABLE IF NOT EXISTS approvals (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  subject_ref TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  decision TEXT,
  decided_by TEXT,
  decided_at DATETIME,
  reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  correlation_id TEXT,
  payload TEXT NOT NULL,
  metadata TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 5,
  last_error TEXT,
  scheduled_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  processed_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS idempotency_records (
  id TEXT PRIMARY KEY,
  scope TEXT NOT NULL,
  idem_key TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  status TEXT NOT NULL,
  request_hash TEXT NOT NULL,
  http_status INTEGER,
  response_payload TEXT,
  error_payload TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  expires_at DATETIME NOT NULL
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_idempotency_scope_key_tenant
  ON idempotency_records (scope, idem_key, tenant_id);`}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	logg := newControllersLogger()
	outboxStore := outbox.NewStore(db)
	outboxSvc := outbox.NewService(outboxStore, nil)
	exec := retry.NewExecutorWithSleeper(nil, func(ctx context.Context, d time.Duration) error {
		return nil
	})
	bus := eventbus.New(exec, nil)

	svc, err := approvals.NewService(approvals.ServiceParams{
		DB:     gormTxRunner{db: db},
		Repo:   approvals.NewRepository(db),
		Outbox: outboxSvc,
		Store:  outboxStore,
		Bus:    bus,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("new approvals service: %v", err)
	}
	guard := idempotency.NewService(idempotency.NewStore(db), time.Hour, logg)

	r := chi.NewRouter()
	r.Post("/approvals/{approvalId}/decision", ApprovalDecide(svc, guard, logg))
	r.Post("/approvals/bulk-decision", ApprovalBulkDecide(svc, guard, logg))

	return &approvalsTestEnv{
		db:     db,
		router: r,
		tenant: uuid.New(),
		user:   uuid.New(),
	}
}

func (env *approvalsTestEnv) seedPending(t *testing.T) *models.Approval {
	t.Helper()
	approval := &models.Approval{
		ID:         uuid.New(),
		TenantID:   env.tenant,
		SubjectRef: "partner-application/" + uuid.NewString(),
		Status:     approvals.StatusPending,
	}
	if err := env.db.Create(approval).Error; err != nil {
		t.Fatalf("seed approval: %v", err)
	}
	return approval
}

func (env *approvalsTestEnv) decide(t *testing.T, approvalID, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/approvals/"+approvalID+"/decision", strings.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), env.user.String())
	ctx = middleware.WithTenantID(ctx, env.tenant)
	req = req.WithContext(ctx)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestApprovalDecideRequiresIdempotencyKey(t *testing.T) {
	env := newApprovalsTestEnv(t)
	approval := env.seedPending(t)

	rec := env.decide(t, approval.ID.String(), "", `{"decision":"approved"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Idempotency-Key") {
		t.Fatalf("expected key requirement in message, got %s", rec.Body.String())
	}

	stored := reloadApproval(t, env, approval.ID)
	if stored.Status != approvals.StatusPending {
		t.Fatalf("approval must stay pending, got %s", stored.Status)
	}
}

func TestApprovalDecideRequiresAuthenticatedUser(t *testing.T) {
	env := newApprovalsTestEnv(t)
	approval := env.seedPending(t)

	req := httptest.NewRequest(http.MethodPost, "/approvals/"+approval.ID.String()+"/decision", strings.NewReader(`{"decision":"approved"}`))
	req = req.WithContext(middleware.WithTenantID(req.Context(), env.tenant))
	req.Header.Set("Idempotency-Key", uuid.NewString())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}
}

func TestApprovalDecideRejectsMalformedApprovalID(t *testing.T) {
	env := newApprovalsTestEnv(t)

	rec := env.decide(t, "not-a-uuid", uuid.NewString(), `{"decision":"approved"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestApprovalDecideRejectsUnknownDecision(t *testing.T) {
	env := newApprovalsTestEnv(t)
	approval := env.seedPending(t)

	rec := env.decide(t, approval.ID.String(), uuid.NewString(), `{"decision":"maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown decision, got %d", rec.Code)
	}
}

func TestApprovalDecideAppliesDecisionOnce(t *testing.T) {
	env := newApprovalsTestEnv(t)
	approval := env.seedPending(t)
	key := uuid.NewString()
	body := `{"decision":"approved","reason":"meets criteria"}`

	first := env.decide(t, approval.ID.String(), key, body)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	var result struct {
		ApprovalID string `json:"approvalId"`
		Status     string `json:"status"`
		Decision   string `json:"decision"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ApprovalID != approval.ID.String() || result.Decision != approvals.DecisionApproved {
		t.Fatalf("unexpected result %+v", result)
	}

	replay := env.decide(t, approval.ID.String(), key, body)
	if replay.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d: %s", replay.Code, replay.Body.String())
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("replay must return the cached response\nfirst:  %s\nreplay: %s", first.Body.String(), replay.Body.String())
	}

	stored := reloadApproval(t, env, approval.ID)
	if stored.Status != approvals.StatusDecided {
		t.Fatalf("expected decided approval, got %s", stored.Status)
	}
}

func TestApprovalDecideRejectsReusedKeyWithDifferentBody(t *testing.T) {
	env := newApprovalsTestEnv(t)
	approval := env.seedPending(t)
	key := uuid.NewString()

	first := env.decide(t, approval.ID.String(), key, `{"decision":"approved"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}

	second := env.decide(t, approval.ID.String(), key, `{"decision":"rejected"}`)
	if second.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for mutated body under same key, got %d: %s", second.Code, second.Body.String())
	}
}

func TestApprovalDecideRejectsReusedKeyAgainstDifferentApproval(t *testing.T) {
	env := newApprovalsTestEnv(t)
	first := env.seedPending(t)
	second := env.seedPending(t)
	key := uuid.NewString()
	body := `{"decision":"approved"}`

	rec := env.decide(t, first.ID.String(), key, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Same key and body but a different target must not replay the first
	// approval's cached response.
	rec = env.decide(t, second.ID.String(), key, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key on another approval, got %d: %s", rec.Code, rec.Body.String())
	}

	stored := reloadApproval(t, env, second.ID)
	if stored.Status != approvals.StatusPending {
		t.Fatalf("second approval must stay pending, got %s", stored.Status)
	}
}

func TestApprovalBulkDecideAppliesAllDecisions(t *testing.T) {
	env := newApprovalsTestEnv(t)
	first := env.seedPending(t)
	second := env.seedPending(t)

	body, err := json.Marshal(map[string]any{
		"decisions": []map[string]string{
			{"approvalId": first.ID.String(), "decision": "approved"},
			{"approvalId": second.ID.String(), "decision": "rejected", "reason": "duplicate application"},
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/approvals/bulk-decision", strings.NewReader(string(body)))
	ctx := middleware.WithUserID(req.Context(), env.user.String())
	ctx = middleware.WithTenantID(ctx, env.tenant)
	req = req.WithContext(ctx)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored := reloadApproval(t, env, id)
		if stored.Status != approvals.StatusDecided {
			t.Fatalf("approval %s must be decided, got %s", id, stored.Status)
		}
	}
}

func TestApprovalBulkDecideRejectsEmptyBatch(t *testing.T) {
	env := newApprovalsTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/approvals/bulk-decision", strings.NewReader(`{"decisions":[]}`))
	ctx := middleware.WithUserID(req.Context(), env.user.String())
	ctx = middleware.WithTenantID(ctx, env.tenant)
	req = req.WithContext(ctx)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d: %s", rec.Code, rec.Body.String())
	}
}

func reloadApproval(t *testing.T, env *approvalsTestEnv, id uuid.UUID) *models.Approval {
	t.Helper()
	var approval models.Approval
	if err := env.db.First(&approval, "id = ?", id).Error; err != nil {
		t.Fatalf("reload approval: %v", err)
	}
	return &approval
}
