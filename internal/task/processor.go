package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/observability/alerting"
	"SwapBot-Chain/pkg/logger"
)

// Executor 定义了处理器所需的交换能力，本地引擎与链上中继均实现该接口。
type Executor interface {
	AuthorizeSwap(ctx context.Context, caller, owner solana.PublicKey, req bot.SwapRequest) (*bot.Receipt, error)
	ExecuteSwap(ctx context.Context, caller, owner solana.PublicKey, req bot.SwapRequest) (*bot.Receipt, error)
}

// Recorder 记录任务的最终结果。
type Recorder interface {
	ObserveJob(mode, status string)
}

const (
	unrecordedMarkAttempts = 3
	unrecordedMarkBackoff  = 50 * time.Millisecond
)

// Processor 负责从队列消费任务并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	recorder    Recorder
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithJobRecorder 配置任务指标记录器。
func WithJobRecorder(recorder Recorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = recorder
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobConflict) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrJobExhausted) {
			if markErr := p.store.MarkFailed(ctx, jobID, CodeJobExhausted, err.Error(), true); markErr != nil {
				return markErr
			}
			p.emitAlert(ctx, job, CodeJobExhausted, err, "exhausted")
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	receipt, execErr := p.run(ctx, job)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, *receipt); err != nil {
		// 交换已经生效，不能重投：记录为终态失败并确认消息。
		p.recordUnrecorded(ctx, job, receipt, err)
		return nil
	}
	p.record(job, StatusSucceeded)
	logger.Audit().Info("交换任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("owner", job.Owner.String()),
		slog.String("mode", string(job.Mode)),
		slog.Uint64("trades_executed", receipt.TradesExecuted),
		slog.String("signature", receipt.Signature),
	)
	return nil
}

func (p *Processor) recordUnrecorded(ctx context.Context, job *Job, receipt *bot.Receipt, cause error) {
	logger.L().Error("标记任务成功状态失败",
		slog.Any("error", cause),
		slog.String("job_id", job.ID),
		slog.String("signature", receipt.Signature),
	)
	message := fmt.Sprintf("交换已执行但未能记录结果 (signature=%s, trades_executed=%d): %v",
		receipt.Signature, receipt.TradesExecuted, cause)

	var markErr error
	for attempt := 0; attempt < unrecordedMarkAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(unrecordedMarkBackoff):
			}
		}
		if markErr = p.store.MarkFailed(context.WithoutCancel(ctx), job.ID, CodeJobUnrecorded, message, true); markErr == nil {
			break
		}
	}
	if markErr != nil {
		logger.L().Error("记录未入账任务失败", slog.Any("error", markErr), slog.String("job_id", job.ID))
	}
	p.record(job, StatusFailed)
	p.emitAlert(ctx, job, CodeJobUnrecorded, xerrors.New(CodeJobUnrecorded, message), "record")
}

func (p *Processor) run(ctx context.Context, job *Job) (*bot.Receipt, error) {
	req := job.Swap.Request()
	switch job.Mode {
	case ModeAuthorize:
		return p.executor.AuthorizeSwap(ctx, job.Caller, job.Owner, req)
	case ModeExecute:
		return p.executor.ExecuteSwap(ctx, job.Caller, job.Owner, req)
	default:
		return nil, xerrors.Newf(CodeJobValidation, "未知的任务模式: %s", job.Mode)
	}
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxAttempts || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("交换任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("owner", job.Owner.String()),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	if terminal {
		p.record(job, StatusFailed)
	}

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	if xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, job, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) record(job *Job, status Status) {
	if p.recorder != nil {
		p.recorder.ObserveJob(string(job.Mode), string(status))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	p.logger.Debug(msg, args...)
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		JobID:       job.ID,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if !job.Owner.IsZero() {
		event.Owner = job.Owner.String()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
