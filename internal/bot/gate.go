package bot

import (
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"SwapBot-Chain/internal/identity"
)

var bpsDenominator = decimal.NewFromInt(int64(MaxSlippageBps))

// Gate 在任何特权操作前校验配置记录。Gate 本身不修改状态，
// 计数器递增由调用方在同一存储事务中落盘。
type Gate struct {
	ProgramID solana.PublicKey
}

// Check 按固定顺序执行校验，成功时返回递增后的交易计数。
func (g Gate) Check(owner, caller solana.PublicKey, acct *Account, req SwapRequest) (uint64, error) {
	if acct == nil {
		return 0, ErrNotFound
	}
	cfg := acct.Config
	if !cfg.Owner.Equals(owner) || !identity.Verify(g.ProgramID, owner, cfg.Bump, acct.Address) {
		return 0, ErrUnauthorized
	}
	if !cfg.IsActive {
		return 0, ErrBotNotActive
	}
	if !caller.Equals(cfg.ExecutorAuthority) {
		return 0, ErrUnauthorizedBackend
	}
	if req.AmountIn > cfg.MaxTradeAmount {
		return 0, ErrAmountExceedsLimit
	}
	if expected, ok := req.ExpectedAmountOut.Get(); ok {
		if req.MinimumAmountOut < MinimumOutFloor(expected, cfg.MaxSlippageBps) {
			return 0, ErrSlippageExceeded
		}
	}
	if cfg.TradesExecuted == math.MaxUint64 {
		return 0, ErrCounterOverflow
	}
	return cfg.TradesExecuted + 1, nil
}

// MinimumOutFloor 返回 floor(expected * (10000 - bps) / 10000)。
func MinimumOutFloor(expected uint64, bps uint16) uint64 {
	if bps > MaxSlippageBps {
		bps = MaxSlippageBps
	}
	quoted := decimal.NewFromBigInt(new(big.Int).SetUint64(expected), 0)
	keep := decimal.NewFromInt(int64(MaxSlippageBps - bps))
	floor := quoted.Mul(keep).Div(bpsDenominator).Floor()
	return floor.BigInt().Uint64()
}
