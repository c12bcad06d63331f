package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/api"
	"github.com/innovasure/settlement-orchestrator/internal/api/handler"
	"github.com/innovasure/settlement-orchestrator/internal/api/middleware"
	"github.com/innovasure/settlement-orchestrator/internal/config"
	"github.com/innovasure/settlement-orchestrator/internal/db"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/gateway"
	"github.com/innovasure/settlement-orchestrator/internal/idempotency"
	"github.com/innovasure/settlement-orchestrator/internal/lease"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"github.com/innovasure/settlement-orchestrator/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "settlement-orchestrator-test"
	testJWTAudience = "settlement-api-test"
	testHookKey     = "hook-key"
)

var settlementDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	observability.Init()
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

// rail settles every payout inline except for phones with pending rejections.
type rail struct {
	mu      sync.Mutex
	rejects map[string]int
}

func (r *rail) Name() string { return domain.ProviderMpesa }

func (r *rail) rejectNext(phone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects[phone]++
}

func (r *rail) SendPayout(_ context.Context, req gateway.PayoutRequest) (gateway.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejects[req.Phone] > 0 {
		r.rejects[req.Phone]--
		return gateway.Ack{}, &gateway.RejectedError{Provider: r.Name(), Code: "2040", Description: "Credit Party customer type is not supported."}
	}
	return gateway.Ack{ConversationID: "AG_" + req.Reference, ProviderTxnID: "TX-" + req.Reference, Settled: true}, nil
}

type testServer struct {
	handler http.Handler
	store   *repository.SQLiteStore
	rail    *rail
	admin   string
	viewer  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sqlDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(context.Background(), sqlDB))

	store := repository.NewSQLiteStore(sqlDB)
	audit := service.NewAuditService(store)
	ledger := service.NewPayoutLedger(store, audit)
	locker := lease.NewLocalLocker()
	bank := gateway.NewBankProvider(0)
	r := &rail{rejects: make(map[string]int)}

	dispatch := service.NewDispatchService(store, ledger, gateway.Registry{
		domain.ProviderMpesa: r,
		domain.ProviderBank:  bank,
	}, locker, time.Second)
	pool := worker.NewDispatchPool(dispatch, 2, 32)
	dispatch.SetQueue(pool)
	t.Cleanup(pool.Run(context.Background()))

	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		WebhookHMACKey:     testHookKey,
		ProviderMode:       config.ProviderModeMock,
		BankRail:           config.BankRailSimulator,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), store, nil, idempotency.NewStore(nil, cfg.IdempotencyTTL), api.Services{
		Settlements: service.NewSettlementService(store, ledger, bank, locker, service.CategoryAccounts{
			Insurance:      "UNDERWRITER-001",
			Administrative: "PLATFORM-OPS-001",
		}, time.Second),
		Dispatch:  dispatch,
		Status:    service.NewStatusService(store, ledger),
		Manual:    service.NewManualReconciliationService(store, ledger),
		Ledger:    ledger,
		Callbacks: service.NewCallbackService(dispatch, testHookKey, false),
	})

	admin, err := handler.IssueToken(uuid.New(), "admin", time.Hour)
	require.NoError(t, err)
	viewer, err := handler.IssueToken(uuid.New(), "viewer", time.Hour)
	require.NoError(t, err)

	return &testServer{handler: router.Routes(), store: store, rail: r, admin: admin, viewer: viewer}
}

// seedDay creates one agent per premium on a plan paying agents 10%.
func (s *testServer) seedDay(t *testing.T, day time.Time, premiums ...string) []string {
	t.Helper()
	ctx := context.Background()
	q := s.store.Queries()
	plan := models.Plan{
		ID:                   uuid.New(),
		Name:                 "Family Cover",
		AgentCommission:      models.CommissionPortion{Kind: domain.CommissionPercentage, Value: decimal.NewFromInt(10)},
		SuperAgentCommission: models.CommissionPortion{Kind: domain.CommissionFixed, Value: decimal.Zero},
		AdminFee:             models.CommissionPortion{Kind: domain.CommissionFixed, Value: decimal.NewFromInt(5)},
		CreatedAt:            day,
	}
	require.NoError(t, q.UpsertPlan(ctx, plan))

	phones := make([]string, 0, len(premiums))
	for i, premium := range premiums {
		id := uuid.New()
		phone := "25472200000" + string(rune('0'+i))
		require.NoError(t, q.UpsertBeneficiary(ctx, models.Beneficiary{
			ID:        id,
			Type:      domain.BeneficiaryAgent,
			Name:      "Agent " + string(rune('A'+i)),
			Phone:     phone,
			Provider:  domain.ProviderMpesa,
			CreatedAt: day,
		}))
		require.NoError(t, q.InsertPayment(ctx, models.Payment{
			ID:          uuid.New(),
			MemberID:    uuid.New(),
			PlanID:      plan.ID,
			AgentID:     &id,
			Amount:      decimal.RequireFromString(premium),
			AllocatedAt: day.Add(time.Duration(8+i) * time.Hour),
		}))
		phones = append(phones, phone)
	}
	return phones
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type problemBody struct {
	Type   string              `json:"type"`
	Status int                 `json:"status"`
	Detail string              `json:"detail"`
	Errors []domain.FieldError `json:"errors"`
}

func (s *testServer) generate(t *testing.T, date string) models.SettlementBatch {
	t.Helper()
	w := s.do(t, http.MethodPost, "/settlements/generate", s.admin, map[string]string{"date": date})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.SettlementBatch](t, w)
}

func (s *testServer) waitForStatus(t *testing.T, id uuid.UUID, done func(service.BatchStatus) bool) service.BatchStatus {
	t.Helper()
	var last service.BatchStatus
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/settlements/"+id.String()+"/payout-status", s.admin, nil)
		if w.Code != http.StatusOK {
			return false
		}
		last = decode[service.BatchStatus](t, w)
		return done(last)
	}, 5*time.Second, 20*time.Millisecond)
	return last
}

func settled(st service.BatchStatus) bool {
	return st.Counts.Pending == 0 && st.Counts.InProgress == 0
}

func TestSettlementLifecycle(t *testing.T) {
	s := newTestServer(t)
	phones := s.seedDay(t, settlementDay, "1000.00", "2000.00", "1500.00")
	s.rail.rejectNext(phones[1])
	s.rail.rejectNext(phones[2])

	batch := s.generate(t, "2026-03-10")
	assert.Equal(t, domain.BatchStatusOpen, batch.Status)
	assert.Equal(t, "450", batch.Totals.TotalAgentCommissions.String())
	assert.Equal(t, 3, batch.Totals.PaymentCount)
	base := "/settlements/" + batch.ID.String()

	w := s.do(t, http.MethodPost, "/settlements/generate", s.admin, map[string]string{"date": "2026-03-10"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, strings.HasSuffix(decode[problemBody](t, w).Type, "/settlement/duplicate"))

	w = s.do(t, http.MethodPost, base+"/payouts/commissions", s.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, domain.BatchStatusReconciliation, decode[models.SettlementBatch](t, w).Status)

	st := s.waitForStatus(t, batch.ID, settled)
	assert.Equal(t, int64(3), st.Counts.Total)
	assert.Equal(t, int64(1), st.Counts.Completed)
	assert.Equal(t, int64(2), st.Counts.Failed)
	assert.Equal(t, 33, st.CompletionPercentage)

	w = s.do(t, http.MethodGet, base+"/payouts/details?status=failed", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	failed := decode[struct {
		Items []models.PayoutDetail `json:"items"`
	}](t, w).Items
	require.Len(t, failed, 2)
	for _, row := range failed {
		assert.Equal(t, "2040", row.ErrorDetails["code"])
		assert.NotEmpty(t, row.BeneficiaryName)
	}

	w = s.do(t, http.MethodPost, base+"/payouts/"+failed[0].ID.String()+"/retry", s.admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	st = s.waitForStatus(t, batch.ID, func(st service.BatchStatus) bool { return st.Counts.Completed == 2 })
	assert.Equal(t, 67, st.CompletionPercentage)

	manualPath := base + "/payouts/" + failed[1].ID.String() + "/manual"
	w = s.do(t, http.MethodPost, manualPath, s.admin, map[string]string{"notes": "paid from till"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	p := decode[problemBody](t, w)
	require.Len(t, p.Errors, 3)
	assert.Equal(t, "Transaction reference is required", p.Errors[0].Message)

	entry := map[string]string{
		"transactionRef":  "QKL91XY2",
		"transactionDate": "2026-03-11",
		"phone":           failed[1].BeneficiaryPhone,
		"notes":           "paid from till",
	}
	w = s.do(t, http.MethodPost, manualPath, s.admin, entry)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	row := decode[models.PayoutTransaction](t, w)
	assert.Equal(t, domain.PayoutStatusCompleted, row.Status)
	assert.Equal(t, domain.ProviderManual, row.Provider)

	w = s.do(t, http.MethodPost, manualPath, s.admin, entry)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, strings.HasSuffix(decode[problemBody](t, w).Type, "/payout/already-completed"))

	st = s.waitForStatus(t, batch.ID, settled)
	assert.Equal(t, 100, st.CompletionPercentage)
	assert.Equal(t, domain.BatchStatusProcessed, st.Status)

	w = s.do(t, http.MethodGet, base+"/payouts/"+failed[1].ID.String()+"/audit", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Items []models.AuditEntry `json:"items"`
	}](t, w).Items
	require.NotEmpty(t, history)
	assert.Equal(t, "manual_entry", history[len(history)-1].Action)

	for _, category := range []string{"insurance", "administrative"} {
		w = s.do(t, http.MethodPost, base+"/payouts/"+category, s.admin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, base, s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.BatchStatusCompleted, decode[models.SettlementBatch](t, w).Status)

	w = s.do(t, http.MethodGet, base+"/export", s.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "settlement-2026-03-10.pdf")

	w = s.do(t, http.MethodGet, base+"/export?format=xlsx", s.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
}

func TestGenerate_NoPaymentsWarns(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/settlements/generate", s.admin, map[string]string{"date": "2026-03-11"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["warning"])
	assert.NotEmpty(t, body["id"])
}

func TestGenerate_Validation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body any
	}{
		{name: "missing date", body: map[string]string{}},
		{name: "bad date", body: map[string]string{"date": "10/03/2026"}},
		{name: "future date", body: map[string]string{"date": time.Now().AddDate(0, 0, 3).Format("2006-01-02")}},
		{name: "malformed json", body: []byte(`{"date":`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/settlements/generate", s.admin, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestProcess_ForceClose(t *testing.T) {
	s := newTestServer(t)
	s.seedDay(t, settlementDay, "1000.00")
	batch := s.generate(t, "2026-03-10")

	w := s.do(t, http.MethodPost, "/settlements/"+batch.ID.String()+"/process", s.admin, map[string]string{"notes": "closing early"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[models.SettlementBatch](t, w)
	assert.Equal(t, domain.BatchStatusProcessed, got.Status)
	assert.Equal(t, "closing early", got.Notes)
	assert.Equal(t, domain.CategoryStatusFailed, got.PayoutStatus.Commissions)

	w = s.do(t, http.MethodPost, "/settlements/"+batch.ID.String()+"/process", s.admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/settlements/"+batch.ID.String()+"/payouts/commissions", s.admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetry_Guards(t *testing.T) {
	s := newTestServer(t)
	s.seedDay(t, settlementDay, "1000.00")
	batch := s.generate(t, "2026-03-10")

	w := s.do(t, http.MethodGet, "/settlements/"+batch.ID.String()+"/payouts/details", s.admin, nil)
	rows := decode[struct {
		Items []models.PayoutDetail `json:"items"`
	}](t, w).Items
	require.Len(t, rows, 1)

	w = s.do(t, http.MethodPost, "/settlements/"+batch.ID.String()+"/payouts/"+rows[0].ID.String()+"/retry", s.admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, strings.HasSuffix(decode[problemBody](t, w).Type, "/settlement/invalid-state"))

	w = s.do(t, http.MethodPost, "/settlements/"+batch.ID.String()+"/payouts/"+rows[0].ID.String()+"/manual", s.admin, map[string]string{
		"transaction_ref":  "REF1",
		"transaction_date": "2026-03-11",
		"phone":            rows[0].BeneficiaryPhone,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/settlements/"+uuid.NewString()+"/payouts/"+rows[0].ID.String()+"/retry", s.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAndGet(t *testing.T) {
	s := newTestServer(t)
	s.seedDay(t, settlementDay, "1000.00")
	batch := s.generate(t, "2026-03-10")

	w := s.do(t, http.MethodGet, "/settlements?status=open&limit=10", s.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []models.SettlementBatch `json:"items"`
		Count int                      `json:"count"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, batch.ID, list.Items[0].ID)

	w = s.do(t, http.MethodGet, "/settlements?status=processed", s.viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["count"].(float64))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/settlements?status=archived", s.viewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/settlements?limit=-1", s.viewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/settlements/not-a-uuid", s.viewer, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/settlements/"+uuid.NewString(), s.viewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/settlements/"+batch.ID.String()+"/export?format=csv", s.viewer, nil).Code)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/settlements", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/settlements", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/settlements/generate", s.viewer, map[string]string{"date": "2026-03-10"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/v1/auth/token", "", map[string]string{"user_id": uuid.NewString()})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]string](t, w)["token"]
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/settlements", token, nil).Code)
}

func TestIdempotentGenerate(t *testing.T) {
	s := newTestServer(t)
	s.seedDay(t, settlementDay, "1000.00")
	body := map[string]string{"date": "2026-03-10"}

	first := s.do(t, http.MethodPost, "/settlements/generate", s.admin, body, "Idempotency-Key", "gen-2026-03-10")
	require.Equal(t, http.StatusCreated, first.Code)

	replay := s.do(t, http.MethodPost, "/settlements/generate", s.admin, body, "Idempotency-Key", "gen-2026-03-10")
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "memory", replay.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	conflict := s.do(t, http.MethodPost, "/settlements/generate", s.admin, map[string]string{"date": "2026-03-09"}, "Idempotency-Key", "gen-2026-03-10")
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestPayoutCallback(t *testing.T) {
	s := newTestServer(t)
	s.seedDay(t, settlementDay, "1000.00")
	batch := s.generate(t, "2026-03-10")

	payload := []byte(`{"conversation_id":"AG_unknown","success":true,"provider_txn_id":"TX1"}`)
	cases := []struct {
		name   string
		body   []byte
		sig    string
		status int
	}{
		{name: "bad signature", body: payload, sig: "sha256=00", status: http.StatusUnauthorized},
		{name: "unknown conversation", body: payload, sig: service.SignPayload([]byte(testHookKey), payload), status: http.StatusNotFound},
		{name: "missing conversation", body: []byte(`{"success":true}`), sig: service.SignPayload([]byte(testHookKey), []byte(`{"success":true}`)), status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/callbacks/payouts", "", tc.body, "X-Webhook-Signature", tc.sig)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	w := s.do(t, http.MethodPost, "/callbacks/mpesa/b2c/result", "", []byte(`{"Result":{"ResultType":0,"ResultCode":0,"ConversationID":"AG_unknown","OriginatorConversationID":"`+batch.ID.String()+`-1","TransactionID":"TX2"}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["ResultCode"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tc.path, "", nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
