package bot

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	xerrors "SwapBot-Chain/internal/errors"
)

// MemoryStore 以内存方式保存配置记录，每个地址一把锁。
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account

	lockMu sync.Mutex
	locks  map[solana.PublicKey]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[solana.PublicKey]Account),
		locks:    make(map[solana.PublicKey]*sync.Mutex),
	}
}

func (m *MemoryStore) lock(addr solana.PublicKey) func() {
	m.lockMu.Lock()
	l, ok := m.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		m.locks[addr] = l
	}
	m.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, acct *Account) error {
	if acct == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account 不能为空")
	}
	unlock := m.lock(acct.Address)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.Address]; ok {
		return ErrAlreadyExists
	}
	m.accounts[acct.Address] = *acct
	return nil
}

// Get 返回记录副本。
func (m *MemoryStore) Get(_ context.Context, addr solana.PublicKey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return &acct, nil
}

// Update 在地址锁内执行 fn，成功后整体写回。
func (m *MemoryStore) Update(ctx context.Context, addr solana.PublicKey, fn UpdateFunc) (*Account, error) {
	unlock := m.lock(addr)
	defer unlock()

	current, err := m.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.Address = addr

	m.mu.Lock()
	m.accounts[addr] = *current
	m.mu.Unlock()

	out := *current
	return &out, nil
}

// Delete 在 guard 通过后删除记录并返回被删除的内容。
func (m *MemoryStore) Delete(ctx context.Context, addr solana.PublicKey, guard UpdateFunc) (*Account, error) {
	unlock := m.lock(addr)
	defer unlock()

	current, err := m.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		snapshot := *current
		if err := guard(&snapshot); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	delete(m.accounts, addr)
	m.mu.Unlock()
	return current, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
