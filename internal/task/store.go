package task

import (
	"context"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将待执行任务置为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, receipt bot.Receipt) error
	// MarkFailed 记录失败原因；terminal 为 false 时任务回到待执行状态。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Close() error
}
