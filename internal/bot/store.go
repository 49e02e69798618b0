package bot

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// UpdateFunc 在独占访问下修改记录。返回错误时不写入任何内容。
type UpdateFunc func(acct *Account) error

// Store 抽象了配置记录的持久化接口。
//
// 同一地址上的 Update 与 Delete 必须互斥执行，Create 对同一地址只能成功一次。
type Store interface {
	Create(ctx context.Context, acct *Account) error
	Get(ctx context.Context, addr solana.PublicKey) (*Account, error)
	Update(ctx context.Context, addr solana.PublicKey, fn UpdateFunc) (*Account, error)
	Delete(ctx context.Context, addr solana.PublicKey, guard UpdateFunc) (*Account, error)
	Close() error
}
