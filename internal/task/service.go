package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/pkg/logger"
)

// SubmitRequest 描述一次异步交换提交。
type SubmitRequest struct {
	// ID 可选，相同 ID 的重复提交返回已有任务。
	ID     string
	Owner  solana.PublicKey
	Caller solana.PublicKey
	Mode   Mode
	Swap   SwapParams
}

// Service 负责任务的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{store: store, producer: producer, maxAttempts: maxAttempts}
}

func validate(req SubmitRequest) error {
	if !IsValidMode(req.Mode) {
		return xerrors.Newf(CodeJobValidation, "未知的任务模式: %s", req.Mode)
	}
	if req.Owner.IsZero() || req.Caller.IsZero() {
		return xerrors.New(CodeJobValidation, "owner 与 caller 不能为空")
	}
	if req.Mode == ModeExecute && (strings.TrimSpace(req.Swap.Pool) == "" || req.Swap.InputMint.IsZero()) {
		return xerrors.New(CodeJobValidation, "execute 模式需要 pool 与 input_mint")
	}
	return nil
}

// Submit 创建一个新的任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:          jobID,
		Owner:       req.Owner,
		Caller:      req.Caller,
		Mode:        req.Mode,
		Swap:        req.Swap,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("交换任务入队成功",
		slog.String("job_id", jobID),
		slog.String("owner", req.Owner.String()),
		slog.String("caller", req.Caller.String()),
		slog.String("mode", string(req.Mode)),
		slog.Uint64("amount_in", req.Swap.AmountIn),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询直到任务结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
