package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于本地模式与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusSucceeded, StatusFailed:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		return cloneJob(job), ErrJobConflict
	}
	if job.Attempts >= job.MaxAttempts {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.UpdatedAt = m.now().Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录成功回执。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, receipt bot.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Receipt = &receipt
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	if terminal {
		job.Status = StatusFailed
	}
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 按更新时间倒序返回任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts = opts.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if !opts.Owner.IsZero() && !job.Owner.Equals(opts.Owner) {
			continue
		}
		if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, job.Status) {
			continue
		}
		results = append(results, cloneJob(job))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func containsStatus(statuses []Status, status Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
