package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/observability/metrics"
	"SwapBot-Chain/internal/relay"
	"SwapBot-Chain/internal/task"
)

var testProgramID = solana.MustPublicKeyFromBase58("2ZHz4gmsvTj9QL6yXa5cNrVXm9oJ2mnBDX8PaQxoRQZb")

func newSigner(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newAuth(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Mode: auth.ModeSignature, MaxClockSkew: time.Minute})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return svc
}

// do sends a signed request; a nil key leaves the request unsigned.
func do(t *testing.T, h http.Handler, key solana.PrivateKey, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if key != nil {
		if err := auth.SignRequest(req, key, payload, time.Now()); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, status, rec.Body.String())
	}
	if got := decode[errorBody](t, rec); got.Code != code {
		t.Fatalf("code = %s, want %s", got.Code, code)
	}
}

type localFixture struct {
	handler  http.Handler
	owner    solana.PrivateKey
	executor solana.PrivateKey
	jobs     *task.Service
}

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	engine := bot.NewService(testProgramID, bot.NewMemoryStore())
	jobs := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(8), 3)
	m := metrics.New()
	server := NewServer(":0", newAuth(t), engine, engine,
		WithAdmin(engine),
		WithJobs(jobs),
		WithMetrics("/metrics", m.Handler(), m.Middleware),
	)
	return &localFixture{
		handler:  server.Handler(),
		owner:    newSigner(t),
		executor: newSigner(t),
		jobs:     jobs,
	}
}

func (f *localFixture) initialize(t *testing.T) bot.Account {
	t.Helper()
	executor := f.executor.PublicKey()
	rec := do(t, f.handler, f.owner, http.MethodPost, "/api/v1/bots", initializeBody{
		ExecutorAuthority: &executor,
		MaxTradeAmount:    1000,
		MaxSlippageBps:    100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize status = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[bot.Account](t, rec)
}

func TestBotLifecycle(t *testing.T) {
	f := newLocalFixture(t)
	acct := f.initialize(t)
	if !acct.Config.Owner.Equals(f.owner.PublicKey()) || !acct.Config.IsActive {
		t.Fatalf("unexpected account: %+v", acct)
	}
	botPath := "/api/v1/bots/" + f.owner.PublicKey().String()

	rec := do(t, f.handler, f.executor, http.MethodGet, botPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = do(t, f.handler, f.owner, http.MethodPost, "/api/v1/bots", initializeBody{MaxTradeAmount: 1})
	expectError(t, rec, http.StatusConflict, string(bot.CodeAlreadyExists))

	active := false
	rec = do(t, f.handler, f.executor, http.MethodPatch, botPath, updateBody{IsActive: &active})
	expectError(t, rec, http.StatusForbidden, string(bot.CodeUnauthorized))

	rec = do(t, f.handler, f.owner, http.MethodPatch, botPath, updateBody{IsActive: &active})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[bot.Account](t, rec); got.Config.IsActive {
		t.Fatal("bot should be paused")
	}

	rec = do(t, f.handler, f.owner, http.MethodDelete, botPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d", rec.Code)
	}
	if reclaim := decode[bot.Reclaim](t, rec); reclaim.Lamports != bot.StorageStake {
		t.Fatalf("reclaim = %+v", reclaim)
	}

	rec = do(t, f.handler, f.owner, http.MethodGet, botPath, nil)
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestAuthorizeSwapGate(t *testing.T) {
	f := newLocalFixture(t)
	f.initialize(t)
	path := "/api/v1/bots/" + f.owner.PublicKey().String() + "/authorize"

	rec := do(t, f.handler, f.executor, http.MethodPost, path, task.SwapParams{AmountIn: 500, MinimumAmountOut: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize status = %d: %s", rec.Code, rec.Body.String())
	}
	if receipt := decode[bot.Receipt](t, rec); receipt.TradesExecuted != 1 || receipt.Executed {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	rec = do(t, f.handler, newSigner(t), http.MethodPost, path, task.SwapParams{AmountIn: 500})
	expectError(t, rec, http.StatusForbidden, string(bot.CodeUnauthorizedBackend))

	rec = do(t, f.handler, f.executor, http.MethodPost, path, task.SwapParams{AmountIn: 1001})
	expectError(t, rec, http.StatusUnprocessableEntity, string(bot.CodeAmountExceedsLimit))

	expected := uint64(1000)
	rec = do(t, f.handler, f.executor, http.MethodPost, path, task.SwapParams{AmountIn: 10, MinimumAmountOut: 900, ExpectedAmountOut: &expected})
	expectError(t, rec, http.StatusUnprocessableEntity, string(bot.CodeSlippageExceeded))
}

func TestRequestsMustBeSigned(t *testing.T) {
	f := newLocalFixture(t)
	botPath := "/api/v1/bots/" + f.owner.PublicKey().String()

	rec := do(t, f.handler, nil, http.MethodGet, botPath, nil)
	expectError(t, rec, http.StatusUnauthorized, string(auth.CodeUnauthenticated))

	payload := []byte(`{"max_trade_amount":1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bots", bytes.NewReader([]byte(`{"max_trade_amount":999}`)))
	if err := auth.SignRequest(req, f.owner, payload, time.Now()); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := httptest.NewRecorder()
	f.handler.ServeHTTP(tampered, req)
	expectError(t, tampered, http.StatusUnauthorized, string(auth.CodeUnauthenticated))

	req = httptest.NewRequest(http.MethodGet, botPath, nil)
	if err := auth.SignRequest(req, f.owner, nil, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("sign: %v", err)
	}
	stale := httptest.NewRecorder()
	f.handler.ServeHTTP(stale, req)
	expectError(t, stale, http.StatusUnauthorized, string(auth.CodeUnauthenticated))

	rec = do(t, f.handler, nil, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	rec = do(t, f.handler, nil, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "swapbot_http_requests_total") {
		t.Fatalf("metrics endpoint: %d %s", rec.Code, rec.Body.String())
	}
}

func TestJobEndpoints(t *testing.T) {
	f := newLocalFixture(t)
	owner := f.owner.PublicKey()

	rec := do(t, f.handler, f.executor, http.MethodPost, "/api/v1/jobs", submitJobBody{
		ID:    "job-42",
		Owner: owner,
		Mode:  task.ModeAuthorize,
		Swap:  task.SwapParams{AmountIn: 10},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	job := decode[task.Job](t, rec)
	if job.ID != "job-42" || job.Status != task.StatusPending || !job.Caller.Equals(f.executor.PublicKey()) {
		t.Fatalf("unexpected job: %+v", job)
	}

	rec = do(t, f.handler, newSigner(t), http.MethodPost, "/api/v1/jobs", submitJobBody{
		ID:    "job-42",
		Owner: owner,
		Mode:  task.ModeAuthorize,
		Swap:  task.SwapParams{AmountIn: 10},
	})
	expectError(t, rec, http.StatusConflict, string(task.CodeJobConflict))

	rec = do(t, f.handler, f.owner, http.MethodGet, "/api/v1/jobs/job-42", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner get status = %d", rec.Code)
	}
	rec = do(t, f.handler, newSigner(t), http.MethodGet, "/api/v1/jobs/job-42", nil)
	expectError(t, rec, http.StatusForbidden, "PERMISSION_DENIED")
	rec = do(t, f.handler, f.owner, http.MethodGet, "/api/v1/jobs/missing", nil)
	expectError(t, rec, http.StatusNotFound, string(task.CodeJobNotFound))

	rec = do(t, f.handler, f.owner, http.MethodGet, "/api/v1/jobs?status=pending&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	listed := decode[struct {
		Jobs []task.Job `json:"jobs"`
	}](t, rec)
	if len(listed.Jobs) != 1 || listed.Jobs[0].ID != "job-42" {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	rec = do(t, f.handler, f.executor, http.MethodPost, "/api/v1/jobs", submitJobBody{Owner: owner, Mode: task.ModeExecute, Swap: task.SwapParams{AmountIn: 10}})
	expectError(t, rec, http.StatusBadRequest, string(task.CodeJobValidation))
}

type stubPreparer struct {
	calls []string
}

func (s *stubPreparer) PrepareInitialize(_ context.Context, owner solana.PublicKey, req bot.InitializeRequest) (*relay.PreparedTransaction, error) {
	s.calls = append(s.calls, "initialize_bot")
	if req.MaxSlippageBps > bot.MaxSlippageBps {
		return nil, bot.ErrInvalidSlippage
	}
	return &relay.PreparedTransaction{Instruction: "initialize_bot", Payer: owner.String(), Transaction: "AA=="}, nil
}

func (s *stubPreparer) PrepareUpdate(_ context.Context, owner solana.PublicKey, _ bot.UpdateRequest) (*relay.PreparedTransaction, error) {
	s.calls = append(s.calls, "update_config")
	return &relay.PreparedTransaction{Instruction: "update_config", Payer: owner.String()}, nil
}

func (s *stubPreparer) PrepareClose(_ context.Context, owner solana.PublicKey) (*relay.PreparedTransaction, error) {
	s.calls = append(s.calls, "close_bot")
	return &relay.PreparedTransaction{Instruction: "close_bot", Payer: owner.String()}, nil
}

type stubSwapper struct {
	receipt *bot.Receipt
	err     error
}

func (s *stubSwapper) AuthorizeSwap(context.Context, solana.PublicKey, solana.PublicKey, bot.SwapRequest) (*bot.Receipt, error) {
	return s.receipt, s.err
}

func (s *stubSwapper) ExecuteSwap(_ context.Context, _, owner solana.PublicKey, req bot.SwapRequest) (*bot.Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.receipt
	out.Owner = owner
	out.Pool = req.Pool
	out.AmountIn = req.AmountIn
	return &out, nil
}

func TestChainModePreparesOwnerTransactions(t *testing.T) {
	preparer := &stubPreparer{}
	swapper := &stubSwapper{receipt: &bot.Receipt{Executed: true, TradesExecuted: 3, Signature: "5xSig"}}
	server := NewServer(":0", newAuth(t), nil, swapper, WithPreparer(preparer))
	h := server.Handler()
	owner := newSigner(t)
	botPath := "/api/v1/bots/" + owner.PublicKey().String()

	rec := do(t, h, owner, http.MethodPost, "/api/v1/bots", initializeBody{MaxTradeAmount: 5, MaxSlippageBps: 50})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare initialize status = %d: %s", rec.Code, rec.Body.String())
	}
	if prepared := decode[relay.PreparedTransaction](t, rec); prepared.Instruction != "initialize_bot" || prepared.Payer != owner.PublicKey().String() {
		t.Fatalf("unexpected prepared tx: %+v", prepared)
	}

	rec = do(t, h, owner, http.MethodPost, "/api/v1/bots", initializeBody{MaxSlippageBps: 10001})
	expectError(t, rec, http.StatusBadRequest, string(bot.CodeInvalidSlippage))

	rec = do(t, h, newSigner(t), http.MethodDelete, botPath, nil)
	expectError(t, rec, http.StatusForbidden, string(bot.CodeUnauthorized))
	rec = do(t, h, owner, http.MethodDelete, botPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare close status = %d", rec.Code)
	}

	rec = do(t, h, newSigner(t), http.MethodPost, botPath+"/swaps", task.SwapParams{AmountIn: 7, Pool: "sol-usdc", InputMint: solana.SolMint})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d: %s", rec.Code, rec.Body.String())
	}
	if receipt := decode[bot.Receipt](t, rec); receipt.Signature != "5xSig" || receipt.Pool != "sol-usdc" || receipt.AmountIn != 7 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	swapper.err = bot.DownstreamFailure(context.DeadlineExceeded)
	rec = do(t, h, newSigner(t), http.MethodPost, botPath+"/swaps", task.SwapParams{AmountIn: 7, Pool: "sol-usdc"})
	expectError(t, rec, http.StatusBadGateway, string(bot.CodeDownstreamCallFailed))

	rec = do(t, h, owner, http.MethodGet, botPath, nil)
	expectError(t, rec, http.StatusServiceUnavailable, "INITIALIZATION_FAILURE")

	if len(preparer.calls) != 3 {
		t.Fatalf("preparer calls = %v", preparer.calls)
	}
}
