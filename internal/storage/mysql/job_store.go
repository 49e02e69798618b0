package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	gomysql "github.com/go-sql-driver/mysql"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/task"
)

// JobStore 将交换任务保存在 swap_jobs 表中。
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ task.Store = (*JobStore)(nil)

// NewJobStore 打开连接并按需执行迁移。
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化任务存储失败")
	}
	return newJobStore(db), nil
}

func newJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// Create 写入新任务，ID 重复时返回冲突。
func (s *JobStore) Create(ctx context.Context, job *task.Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	request, err := json.Marshal(job.Swap)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化交换参数失败")
	}
	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, insertJobSQL,
		job.ID,
		job.Owner.String(),
		job.Caller.String(),
		string(job.Mode),
		string(request),
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return task.ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	return nil
}

// Get 返回任务。
func (s *JobStore) Get(ctx context.Context, id string) (*task.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, selectJobSQL, id))
}

// Claim 通过条件更新抢占任务，失败时再读取一次以给出准确原因。
func (s *JobStore) Claim(ctx context.Context, id string) (*task.Job, error) {
	res, err := s.db.ExecContext(ctx, claimJobSQL,
		string(task.StatusRunning),
		s.now().Unix(),
		id,
		string(task.StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "抢占任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch job.Status {
	case task.StatusSucceeded, task.StatusFailed:
		return job, task.ErrJobCompleted
	case task.StatusRunning:
		return job, task.ErrJobConflict
	}
	if job.Attempts >= job.MaxAttempts {
		return job, task.ErrJobExhausted
	}
	return job, task.ErrJobConflict
}

// MarkSucceeded 记录成功回执。
func (s *JobStore) MarkSucceeded(ctx context.Context, id string, receipt bot.Receipt) error {
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化回执失败")
	}
	res, err := s.db.ExecContext(ctx, succeedJobSQL,
		string(task.StatusSucceeded),
		string(encoded),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	return requireAffected(res)
}

// MarkFailed 记录失败原因，非终态时任务回到待执行。
func (s *JobStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := task.StatusPending
	if terminal {
		status = task.StatusFailed
	}
	res, err := s.db.ExecContext(ctx, failJobSQL,
		string(status),
		lastError,
		string(code),
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	return requireAffected(res)
}

// List 按更新时间倒序分页返回任务。
func (s *JobStore) List(ctx context.Context, opts task.ListOptions) ([]*task.Job, error) {
	opts = opts.Normalize()

	var (
		clauses []string
		args    []any
	)
	if !opts.Owner.IsZero() {
		clauses = append(clauses, "owner = ?")
		args = append(args, opts.Owner.String())
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := selectJobsSQL
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*task.Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务列表失败")
	}
	return jobs, nil
}

// Close 释放连接池。
func (s *JobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*task.Job, error) {
	var (
		job       task.Job
		owner     string
		caller    string
		mode      string
		request   string
		status    string
		lastError sql.NullString
		receipt   sql.NullString
	)
	err := row.Scan(&job.ID, &owner, &caller, &mode, &request, &status,
		&job.Attempts, &job.MaxAttempts, &lastError, &job.ErrorCode, &receipt,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}

	if job.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务所有者失败")
	}
	if job.Caller, err = solana.PublicKeyFromBase58(caller); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务调用方失败")
	}
	if err := json.Unmarshal([]byte(request), &job.Swap); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交换参数失败")
	}
	if receipt.Valid && receipt.String != "" {
		var r bot.Receipt
		if err := json.Unmarshal([]byte(receipt.String), &r); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务回执失败")
		}
		job.Receipt = &r
	}
	job.Mode = task.Mode(mode)
	job.Status = task.Status(status)
	job.LastError = lastError.String
	return &job, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if affected == 0 {
		return task.ErrJobNotFound
	}
	return nil
}

const (
	jobColumns = `id, owner, caller, mode, request, status, attempts, max_attempts, last_error, error_code, receipt, created_at, updated_at`

	insertJobSQL = `INSERT INTO swap_jobs
    (id, owner, caller, mode, request, status, attempts, max_attempts, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectJobSQL  = `SELECT ` + jobColumns + ` FROM swap_jobs WHERE id = ?`
	selectJobsSQL = `SELECT ` + jobColumns + ` FROM swap_jobs`
	claimJobSQL   = `UPDATE swap_jobs SET status = ?, attempts = attempts + 1, updated_at = ?
    WHERE id = ? AND status = ? AND attempts < max_attempts`
	succeedJobSQL = `UPDATE swap_jobs SET status = ?, receipt = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`
	failJobSQL    = `UPDATE swap_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
)
