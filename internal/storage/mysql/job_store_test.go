package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	gomysql "github.com/go-sql-driver/mysql"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/task"
)

var jobColumnNames = []string{
	"id", "owner", "caller", "mode", "request", "status", "attempts", "max_attempts",
	"last_error", "error_code", "receipt", "created_at", "updated_at",
}

func newTestJobStore(t *testing.T, ops []mockOperation) (*JobStore, *queueDriver) {
	t.Helper()
	db, drv := newMockDB(t, ops)
	t.Cleanup(func() { db.Close() })
	store := newJobStore(db)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }
	return store, drv
}

func newTestJob(t *testing.T) *task.Job {
	t.Helper()
	owner, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	expected := uint64(990)
	return &task.Job{
		ID:     "job-1",
		Owner:  owner.PublicKey(),
		Caller: owner.PublicKey(),
		Mode:   task.ModeExecute,
		Swap: task.SwapParams{
			AmountIn:          1000,
			MinimumAmountOut:  985,
			ExpectedAmountOut: &expected,
			Pool:              "sol-usdc",
			InputMint:         solana.SolMint,
		},
		Status:      task.StatusPending,
		MaxAttempts: 3,
	}
}

func jobRow(t *testing.T, job *task.Job) []driver.Value {
	t.Helper()
	request, err := json.Marshal(job.Swap)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var receipt driver.Value
	if job.Receipt != nil {
		raw, err := json.Marshal(job.Receipt)
		if err != nil {
			t.Fatalf("marshal receipt: %v", err)
		}
		receipt = string(raw)
	}
	var lastError driver.Value
	if job.LastError != "" {
		lastError = job.LastError
	}
	return []driver.Value{
		job.ID, job.Owner.String(), job.Caller.String(), string(job.Mode), string(request),
		string(job.Status), int64(job.Attempts), int64(job.MaxAttempts), lastError,
		job.ErrorCode, receipt, job.CreatedAt, job.UpdatedAt,
	}
}

func jobRows(t *testing.T, jobs ...*task.Job) mockRowsData {
	t.Helper()
	data := mockRowsData{columns: jobColumnNames}
	for _, job := range jobs {
		data.values = append(data.values, jobRow(t, job))
	}
	return data
}

func TestJobStoreCreate(t *testing.T) {
	t.Parallel()

	job := newTestJob(t)
	store, drv := newTestJobStore(t, []mockOperation{
		execOp(insertJobSQL, mockResult{rowsAffected: 1}),
		execErrOp(insertJobSQL, &gomysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}),
	})
	defer drv.assertConsumed(t)

	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.CreatedAt != 1700000000 || job.UpdatedAt != 1700000000 {
		t.Fatalf("timestamps not stamped: %+v", job)
	}
	args := drv.statementArgs(0)
	if len(args) != 10 || args[0].Value != "job-1" || args[3].Value != "execute" {
		t.Fatalf("unexpected insert args: %+v", args)
	}
	var params task.SwapParams
	if err := json.Unmarshal([]byte(args[4].Value.(string)), &params); err != nil {
		t.Fatalf("request column is not json: %v", err)
	}
	if params.ExpectedAmountOut == nil || *params.ExpectedAmountOut != 990 || params.Pool != "sol-usdc" {
		t.Fatalf("unexpected request column: %+v", params)
	}

	if err := store.Create(context.Background(), job); !errors.Is(err, task.ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestJobStoreGet(t *testing.T) {
	t.Parallel()

	job := newTestJob(t)
	job.Status = task.StatusSucceeded
	job.Receipt = &bot.Receipt{Owner: job.Owner, AmountIn: 1000, TradesExecuted: 2, Executed: true, Signature: "sig"}
	store, drv := newTestJobStore(t, []mockOperation{
		queryOp(selectJobSQL, jobRows(t, job)),
		queryOp(selectJobSQL, mockRowsData{columns: jobColumnNames}),
	})
	defer drv.assertConsumed(t)

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Owner.Equals(job.Owner) || got.Status != task.StatusSucceeded || got.Swap.Pool != "sol-usdc" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.Receipt == nil || got.Receipt.TradesExecuted != 2 || got.Receipt.Signature != "sig" {
		t.Fatalf("unexpected receipt: %+v", got.Receipt)
	}
	if got.LastError != "" {
		t.Fatalf("null last_error should scan empty, got %q", got.LastError)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, task.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobStoreClaim(t *testing.T) {
	t.Parallel()

	running := newTestJob(t)
	running.Status = task.StatusRunning
	running.Attempts = 1

	done := newTestJob(t)
	done.Status = task.StatusSucceeded

	exhausted := newTestJob(t)
	exhausted.Attempts = 3

	store, drv := newTestJobStore(t, []mockOperation{
		execOp(claimJobSQL, mockResult{rowsAffected: 1}),
		queryOp(selectJobSQL, jobRows(t, running)),
		execOp(claimJobSQL, mockResult{}),
		queryOp(selectJobSQL, jobRows(t, running)),
		execOp(claimJobSQL, mockResult{}),
		queryOp(selectJobSQL, jobRows(t, done)),
		execOp(claimJobSQL, mockResult{}),
		queryOp(selectJobSQL, jobRows(t, exhausted)),
		execOp(claimJobSQL, mockResult{}),
		queryOp(selectJobSQL, mockRowsData{columns: jobColumnNames}),
	})
	defer drv.assertConsumed(t)
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "job-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != task.StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}
	args := drv.statementArgs(0)
	if len(args) != 4 || args[0].Value != "running" || args[2].Value != "job-1" || args[3].Value != "pending" {
		t.Fatalf("unexpected claim args: %+v", args)
	}

	if _, err := store.Claim(ctx, "job-1"); !errors.Is(err, task.ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.Claim(ctx, "job-1"); !errors.Is(err, task.ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if _, err := store.Claim(ctx, "job-1"); !errors.Is(err, task.ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, task.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobStoreMarkOutcome(t *testing.T) {
	t.Parallel()

	store, drv := newTestJobStore(t, []mockOperation{
		execOp(succeedJobSQL, mockResult{rowsAffected: 1}),
		execOp(failJobSQL, mockResult{rowsAffected: 1}),
		execOp(failJobSQL, mockResult{rowsAffected: 1}),
		execOp(failJobSQL, mockResult{}),
	})
	defer drv.assertConsumed(t)
	ctx := context.Background()

	if err := store.MarkSucceeded(ctx, "job-1", bot.Receipt{AmountIn: 5, Executed: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	args := drv.statementArgs(0)
	if args[0].Value != "succeeded" || args[3].Value != "job-1" {
		t.Fatalf("unexpected succeed args: %+v", args)
	}

	if err := store.MarkFailed(ctx, "job-1", xerrors.CodeChainFailure, "rpc down", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if args := drv.statementArgs(1); args[0].Value != "pending" || args[2].Value != "CHAIN_FAILURE" {
		t.Fatalf("retryable failure should requeue: %+v", args)
	}

	if err := store.MarkFailed(ctx, "job-1", bot.CodeAmountExceedsLimit, "too large", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if args := drv.statementArgs(2); args[0].Value != "failed" {
		t.Fatalf("terminal failure should fail the job: %+v", args)
	}

	if err := store.MarkFailed(ctx, "missing", xerrors.CodeUnknown, "x", true); !errors.Is(err, task.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobStoreListFilters(t *testing.T) {
	t.Parallel()

	job := newTestJob(t)
	filtered := selectJobsSQL + " WHERE owner = ? AND status IN (?, ?) ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT ? OFFSET ?"
	unfiltered := selectJobsSQL + " ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT ? OFFSET ?"

	store, drv := newTestJobStore(t, []mockOperation{
		queryOp(filtered, jobRows(t, job)),
		queryOp(unfiltered, jobRows(t)),
	})
	defer drv.assertConsumed(t)
	ctx := context.Background()

	opts := task.BuildListOptions(
		task.WithOwner(job.Owner),
		task.WithStatuses(task.StatusPending, task.StatusFailed),
		task.WithLimit(10),
		task.WithOffset(5),
	)
	jobs, err := store.List(ctx, opts)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	args := drv.statementArgs(0)
	if len(args) != 5 || args[0].Value != job.Owner.String() || args[1].Value != "pending" ||
		args[3].Value != int64(10) || args[4].Value != int64(5) {
		t.Fatalf("unexpected list args: %+v", args)
	}

	jobs, err = store.List(ctx, task.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty list, got %d", len(jobs))
	}
	if args := drv.statementArgs(1); args[0].Value != int64(20) {
		t.Fatalf("default limit not applied: %+v", args)
	}
}
