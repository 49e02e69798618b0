package swapbot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/api"
	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/task"
)

var testProgramID = solana.MustPublicKeyFromBase58("2ZHz4gmsvTj9QL6yXa5cNrVXm9oJ2mnBDX8PaQxoRQZb")

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	authn, err := auth.NewService(auth.Config{Mode: auth.ModeSignature})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	engine := bot.NewService(testProgramID, bot.NewMemoryStore())
	jobs := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(8), 3)
	server := api.NewServer(":0", authn, engine, engine, api.WithAdmin(engine), api.WithJobs(jobs))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, key solana.PrivateKey) *Client {
	t.Helper()
	client, err := NewClient(srv.URL, key, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientAgainstServer(t *testing.T) {
	srv := newTestServer(t)
	ownerKey, executorKey := newKey(t), newKey(t)
	owner := newClient(t, srv, ownerKey)
	executor := newClient(t, srv, executorKey)
	ctx := context.Background()

	execPub := executorKey.PublicKey()
	res, err := owner.Initialize(ctx, InitializeParams{ExecutorAuthority: &execPub, MaxTradeAmount: 1000, MaxSlippageBps: 50})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Account == nil || res.Prepared != nil || !res.Account.Config.ExecutorAuthority.Equals(execPub) {
		t.Fatalf("unexpected initialize result: %+v", res)
	}

	receipt, err := executor.AuthorizeSwap(ctx, owner.Caller(), SwapParams{AmountIn: 100, MinimumAmountOut: 1})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if receipt.TradesExecuted != 1 {
		t.Fatalf("trades = %d", receipt.TradesExecuted)
	}

	_, err = executor.AuthorizeSwap(ctx, owner.Caller(), SwapParams{AmountIn: 5000})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "AMOUNT_EXCEEDS_LIMIT" {
		t.Fatalf("expected amount limit error, got %v", err)
	}

	paused := false
	if _, err := owner.UpdateConfig(ctx, owner.Caller(), UpdateParams{IsActive: &paused}); err != nil {
		t.Fatalf("update: %v", err)
	}
	acct, err := executor.GetBot(ctx, owner.Caller())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Config.IsActive || acct.Config.TradesExecuted != 1 {
		t.Fatalf("unexpected config: %+v", acct.Config)
	}

	reclaim, prepared, err := owner.CloseBot(ctx, owner.Caller())
	if err != nil || prepared != nil {
		t.Fatalf("close: %v %+v", err, prepared)
	}
	if reclaim.Lamports != bot.StorageStake || !reclaim.Recipient.Equals(owner.Caller()) {
		t.Fatalf("unexpected reclaim: %+v", reclaim)
	}
}

func TestClientJobs(t *testing.T) {
	srv := newTestServer(t)
	ownerKey := newKey(t)
	client := newClient(t, srv, ownerKey)
	ctx := context.Background()

	job, err := client.SubmitJob(ctx, JobSubmission{
		ID:    "job-sdk",
		Owner: client.Caller(),
		Mode:  "authorize",
		Swap:  SwapParams{AmountIn: 10},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "job-sdk" || job.Status != "pending" || job.Done() {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, err := client.GetJob(ctx, "job-sdk")
	if err != nil || got.ID != job.ID {
		t.Fatalf("get job: %+v %v", got, err)
	}
	jobs, err := client.ListJobs(ctx, 10, 0, "pending")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("list jobs: %+v %v", jobs, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := client.WaitForJob(waitCtx, "job-sdk", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while job is pending, got %v", err)
	}
}

func TestClientDecodesPreparedTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.HeaderSignature) == "" {
			t.Errorf("request not signed")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"instruction":"initialize_bot","payer":"p","blockhash":"b","transaction":"AQID"}`))
	}))
	defer srv.Close()

	client := newClient(t, srv, newKey(t))
	res, err := client.Initialize(context.Background(), InitializeParams{MaxTradeAmount: 1})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Account != nil || res.Prepared == nil || res.Prepared.Transaction != "AQID" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := NewClient(srv.URL, nil, nil); err == nil {
		t.Fatal("missing key must be rejected")
	}
}
