package task

import (
	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

// Status 表示交换任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Mode 决定任务走委托执行还是仅授权。
type Mode string

const (
	ModeExecute   Mode = "execute"
	ModeAuthorize Mode = "authorize"
)

// SwapParams 是可序列化的交换参数，可选字段以指针表示。
type SwapParams struct {
	AmountIn          uint64            `json:"amount_in"`
	MinimumAmountOut  uint64            `json:"minimum_amount_out"`
	ExpectedAmountOut *uint64           `json:"expected_amount_out,omitempty"`
	Pool              string            `json:"pool,omitempty"`
	InputMint         solana.PublicKey  `json:"input_mint"`
	Source            *solana.PublicKey `json:"source,omitempty"`
	Destination       *solana.PublicKey `json:"destination,omitempty"`
}

// Request 转换为机器人服务使用的请求。
func (p SwapParams) Request() bot.SwapRequest {
	req := bot.SwapRequest{
		AmountIn:         p.AmountIn,
		MinimumAmountOut: p.MinimumAmountOut,
		Pool:             p.Pool,
		InputMint:        p.InputMint,
	}
	if p.ExpectedAmountOut != nil {
		req.ExpectedAmountOut = bot.Some(*p.ExpectedAmountOut)
	}
	if p.Source != nil {
		req.Source = bot.Some(*p.Source)
	}
	if p.Destination != nil {
		req.Destination = bot.Some(*p.Destination)
	}
	return req
}

// Job 描述一笔排队执行的交换。
type Job struct {
	ID          string           `json:"id"`
	Owner       solana.PublicKey `json:"owner"`
	Caller      solana.PublicKey `json:"caller"`
	Mode        Mode             `json:"mode"`
	Swap        SwapParams       `json:"swap"`
	Status      Status           `json:"status"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	LastError   string           `json:"last_error,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	Receipt     *bot.Receipt     `json:"receipt,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	UpdatedAt   int64            `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict")
	// ErrJobCompleted 表示任务已经结束。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed")
	// ErrJobExhausted 表示任务的尝试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job attempts exhausted")
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_ATTEMPTS_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	// CodeJobUnrecorded 表示交换已生效但成功状态未能写入，需人工对账。
	CodeJobUnrecorded xerrors.Code = "JOB_UNRECORDED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job attempts exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:  "job execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeJobUnrecorded, xerrors.Attributes{
		Message:  "swap executed but job outcome not recorded",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidMode 检查任务模式。
func IsValidMode(mode Mode) bool {
	return mode == ModeExecute || mode == ModeAuthorize
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Receipt != nil {
		receipt := *job.Receipt
		clone.Receipt = &receipt
	}
	if job.Swap.ExpectedAmountOut != nil {
		v := *job.Swap.ExpectedAmountOut
		clone.Swap.ExpectedAmountOut = &v
	}
	if job.Swap.Source != nil {
		v := *job.Swap.Source
		clone.Swap.Source = &v
	}
	if job.Swap.Destination != nil {
		v := *job.Swap.Destination
		clone.Swap.Destination = &v
	}
	return &clone
}
