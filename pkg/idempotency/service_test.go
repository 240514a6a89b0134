package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:idempotency_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := `
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
);`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create idempotency_records: %v", err)
	}
	index := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_idempotency_scope_key_tenant
  ON idempotency_records (scope, idem_key, tenant_id);`
	if err := db.Exec(index).Error; err != nil {
		t.Fatalf("create unique index: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *Store) {
	t.Helper()
	store := NewStore(newTestDB(t))
	return NewService(store, time.Hour, nil), store
}

func mustCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected platform error with code %s, got %v", code, err)
	}
	if typed.Code() != code {
		t.Fatalf("expected code %s, got %s", code, typed.Code())
	}
}

func TestGuardRunsOperationAndCachesResult(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	body := []byte(`{"decision":"approved"}`)

	calls := 0
	op := func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Payload: map[string]string{"status": "decided"}, HTTPStatus: http.StatusOK}, nil
	}

	first, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, op)
	if err != nil {
		t.Fatalf("first guard: %v", err)
	}
	if !first.IsNew {
		t.Fatal("first execution must be new")
	}
	if first.HTTPStatus != http.StatusOK {
		t.Fatalf("unexpected status %d", first.HTTPStatus)
	}

	second, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, op)
	if err != nil {
		t.Fatalf("replay guard: %v", err)
	}
	if second.IsNew {
		t.Fatal("replay must not be new")
	}
	if calls != 1 {
		t.Fatalf("operation must run once, ran %d times", calls)
	}
	if string(second.Payload) != string(first.Payload) {
		t.Fatalf("replay payload mismatch: %s vs %s", second.Payload, first.Payload)
	}

	record, err := store.Find(ctx, "approvals.decide", "key-1", tenant)
	if err != nil || record == nil {
		t.Fatalf("expected stored record, got %v / %v", record, err)
	}
	if record.Status != enums.IdempotencyCompleted {
		t.Fatalf("expected COMPLETED, got %s", record.Status)
	}
}

func TestGuardRejectsReusedKeyWithDifferentBody(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	op := func(ctx context.Context) (Outcome, error) {
		return Outcome{Payload: "ok"}, nil
	}
	if _, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, []byte(`{"decision":"approved"}`), op); err != nil {
		t.Fatalf("first guard: %v", err)
	}

	_, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, []byte(`{"decision":"rejected"}`), op)
	mustCode(t, err, pkgerrors.CodeIdempotencyMismatch)
}

func TestGuardConflictsWhileInProgress(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	body := []byte(`{"decision":"approved"}`)

	hash, err := RequestHash(body)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := store.Create(ctx, &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       "approvals.decide",
		IdemKey:     "key-1",
		TenantID:    tenant,
		Status:      enums.IdempotencyInProgress,
		RequestHash: hash,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed in-progress record: %v", err)
	}

	_, err = svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, func(ctx context.Context) (Outcome, error) {
		t.Fatal("operation must not run while a duplicate is in flight")
		return Outcome{}, nil
	})
	mustCode(t, err, pkgerrors.CodeIdempotencyConflict)
}

func TestGuardRetriesAfterFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	body := []byte(`{"decision":"approved"}`)

	calls := 0
	opErr := pkgerrors.New(pkgerrors.CodeDependency, "downstream unavailable")
	failing := func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{}, opErr
	}

	_, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, failing)
	if !errors.Is(err, opErr) {
		t.Fatalf("expected operation error surfaced, got %v", err)
	}

	record, err := store.Find(ctx, "approvals.decide", "key-1", tenant)
	if err != nil || record == nil {
		t.Fatalf("expected failed record retained, got %v / %v", record, err)
	}
	if record.Status != enums.IdempotencyFailed {
		t.Fatalf("expected FAILED, got %s", record.Status)
	}
	if len(record.ErrorPayload) == 0 {
		t.Fatal("expected error summary recorded")
	}

	// A retry with the same key starts from scratch.
	result, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Payload: "recovered", HTTPStatus: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("retry guard: %v", err)
	}
	if !result.IsNew {
		t.Fatal("retry after failure must execute anew")
	}
	if calls != 2 {
		t.Fatalf("expected 2 executions, got %d", calls)
	}
}

func TestGuardEvictsExpiredRecordAndRunsAgain(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	// A lapsed record still occupies the unique index; reusing its key after
	// the TTL must run the operation fresh instead of reporting a conflict.
	if err := store.Create(ctx, &models.IdempotencyRecord{
		ID:              uuid.New(),
		Scope:           "approvals.decide",
		IdemKey:         "key-1",
		TenantID:        tenant,
		Status:          enums.IdempotencyCompleted,
		RequestHash:     "stale-hash",
		ResponsePayload: json.RawMessage(`{"status":"decided"}`),
		ExpiresAt:       time.Now().UTC().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed expired record: %v", err)
	}

	calls := 0
	result, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, []byte(`{"decision":"rejected"}`), func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Payload: map[string]string{"status": "decided"}, HTTPStatus: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("guard after expiry: %v", err)
	}
	if !result.IsNew || calls != 1 {
		t.Fatalf("expected a fresh execution, isNew=%v calls=%d", result.IsNew, calls)
	}

	record, err := store.Find(ctx, "approvals.decide", "key-1", tenant)
	if err != nil || record == nil {
		t.Fatalf("expected replacement record, got %v / %v", record, err)
	}
	if record.RequestHash == "stale-hash" {
		t.Fatal("expired record must be replaced, not reused")
	}
	if !record.ExpiresAt.After(time.Now().UTC()) {
		t.Fatal("replacement record must carry a fresh TTL")
	}
}

func TestCreateRecordConflictCarriesWinningRecordID(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	winner := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       "approvals.decide",
		IdemKey:     "key-1",
		TenantID:    tenant,
		Status:      enums.IdempotencyInProgress,
		RequestHash: "hash",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	if err := store.Create(ctx, winner); err != nil {
		t.Fatalf("seed winning record: %v", err)
	}

	err := svc.createRecord(ctx, &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       "approvals.decide",
		IdemKey:     "key-1",
		TenantID:    tenant,
		Status:      enums.IdempotencyInProgress,
		RequestHash: "hash",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	mustCode(t, err, pkgerrors.CodeIdempotencyConflict)
	typed := pkgerrors.As(err)
	if typed.CorrelationID() != winner.ID.String() {
		t.Fatalf("conflict must reference the winning record, got %q", typed.CorrelationID())
	}
}

func TestCreateRecordEvictsExpiredWinner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()

	if err := store.Create(ctx, &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       "approvals.decide",
		IdemKey:     "key-1",
		TenantID:    tenant,
		Status:      enums.IdempotencyInProgress,
		RequestHash: "hash",
		ExpiresAt:   time.Now().UTC().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed expired record: %v", err)
	}

	replacement := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       "approvals.decide",
		IdemKey:     "key-1",
		TenantID:    tenant,
		Status:      enums.IdempotencyInProgress,
		RequestHash: "hash",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	if err := svc.createRecord(ctx, replacement); err != nil {
		t.Fatalf("create over expired winner: %v", err)
	}

	record, err := store.Find(ctx, "approvals.decide", "key-1", tenant)
	if err != nil || record == nil {
		t.Fatalf("expected replacement record, got %v / %v", record, err)
	}
	if record.ID != replacement.ID {
		t.Fatalf("expected replacement row to win, got %s", record.ID)
	}
}

func TestGuardScopesAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	body := []byte(`{"decision":"approved"}`)

	calls := 0
	op := func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Payload: "ok"}, nil
	}

	if _, err := svc.Guard(ctx, "approvals.decide", "key-1", tenant, body, op); err != nil {
		t.Fatalf("first scope: %v", err)
	}
	if _, err := svc.Guard(ctx, "approvals.bulkDecide", "key-1", tenant, body, op); err != nil {
		t.Fatalf("second scope: %v", err)
	}
	if calls != 2 {
		t.Fatalf("same key in different scopes must run both, got %d", calls)
	}
}

func TestGuardTenantsAreIsolated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	body := []byte(`{"decision":"approved"}`)

	calls := 0
	op := func(ctx context.Context) (Outcome, error) {
		calls++
		return Outcome{Payload: "ok"}, nil
	}

	if _, err := svc.Guard(ctx, "approvals.decide", "key-1", uuid.New(), body, op); err != nil {
		t.Fatalf("tenant a: %v", err)
	}
	if _, err := svc.Guard(ctx, "approvals.decide", "key-1", uuid.New(), body, op); err != nil {
		t.Fatalf("tenant b: %v", err)
	}
	if calls != 2 {
		t.Fatalf("same key across tenants must run both, got %d", calls)
	}
}

func TestGuardValidatesInputs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	op := func(ctx context.Context) (Outcome, error) { return Outcome{}, nil }

	_, err := svc.Guard(ctx, "", "key", uuid.New(), nil, op)
	mustCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.Guard(ctx, "scope", "", uuid.New(), nil, op)
	mustCode(t, err, pkgerrors.CodeValidation)

	_, err = svc.Guard(ctx, "scope", "key", uuid.Nil, nil, op)
	mustCode(t, err, pkgerrors.CodeValidation)
}

func TestDeleteExpiredSweepsOnlyLapsedRecords(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	seed := func(expiresAt time.Time) {
		t.Helper()
		if err := store.Create(ctx, &models.IdempotencyRecord{
			ID:          uuid.New(),
			Scope:       "approvals.decide",
			IdemKey:     uuid.NewString(),
			TenantID:    uuid.New(),
			Status:      enums.IdempotencyCompleted,
			RequestHash: "hash",
			ExpiresAt:   expiresAt,
		}); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
	seed(time.Now().UTC().Add(-time.Hour))
	seed(time.Now().UTC().Add(-time.Minute))
	seed(time.Now().UTC().Add(time.Hour))

	deleted, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted records, got %d", deleted)
	}
}

func TestGuardReplayPreservesStoredStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenant := uuid.New()
	body := []byte(`{"name":"summit"}`)

	first, err := svc.Guard(ctx, "events.create", "key-1", tenant, body, func(ctx context.Context) (Outcome, error) {
		return Outcome{Payload: map[string]string{"id": "evt-1"}, HTTPStatus: http.StatusCreated}, nil
	})
	if err != nil {
		t.Fatalf("first guard: %v", err)
	}
	if first.HTTPStatus != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.HTTPStatus)
	}

	replay, err := svc.Guard(ctx, "events.create", "key-1", tenant, body, func(ctx context.Context) (Outcome, error) {
		t.Fatal("replay must not execute")
		return Outcome{}, nil
	})
	if err != nil {
		t.Fatalf("replay guard: %v", err)
	}
	if replay.HTTPStatus != http.StatusCreated {
		t.Fatalf("replay must serve the original status, got %d", replay.HTTPStatus)
	}

	var decoded map[string]string
	if err := json.Unmarshal(replay.Payload, &decoded); err != nil {
		t.Fatalf("decode replayed payload: %v", err)
	}
	if decoded["id"] != "evt-1" {
		t.Fatalf("unexpected replayed payload: %v", decoded)
	}
}
