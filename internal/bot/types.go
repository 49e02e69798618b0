package bot

import (
	"github.com/gagliardetto/solana-go"
)

// MaxSlippageBps 为滑点上限（基点）。
const MaxSlippageBps uint16 = 10000

// BotConfig 是每个所有者唯一的交易机器人配置记录。
type BotConfig struct {
	Owner             solana.PublicKey `json:"owner"`
	ExecutorAuthority solana.PublicKey `json:"executor_authority"`
	MaxTradeAmount    uint64           `json:"max_trade_amount"`
	MaxSlippageBps    uint16           `json:"max_slippage_bps"`
	IsActive          bool             `json:"is_active"`
	TradesExecuted    uint64           `json:"trades_executed"`
	Bump              uint8            `json:"bump"`
}

// Account 是存储在派生地址上的记录及其押金。
type Account struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
	Config   BotConfig        `json:"config"`
}

// Optional 以显式的存在标记表达可选字段，区分未设置与零值。
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some 构造一个已设置的可选值。
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get 返回值及是否设置。
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// InitializeRequest 描述 initialize 入口的参数。
type InitializeRequest struct {
	ExecutorAuthority Optional[solana.PublicKey]
	MaxTradeAmount    uint64
	MaxSlippageBps    uint16
}

// UpdateRequest 描述 update_config 的部分更新参数。
type UpdateRequest struct {
	MaxTradeAmount Optional[uint64]
	MaxSlippageBps Optional[uint16]
	IsActive       Optional[bool]
}

// Empty 判断请求是否未携带任何字段。
func (r UpdateRequest) Empty() bool {
	return !r.MaxTradeAmount.Set && !r.MaxSlippageBps.Set && !r.IsActive.Set
}

// SwapRequest 描述一次委托交换。
type SwapRequest struct {
	AmountIn         uint64
	MinimumAmountOut uint64
	// ExpectedAmountOut 为报价输出，设置时按配置滑点校验 MinimumAmountOut。
	ExpectedAmountOut Optional[uint64]

	// 以下字段仅 execute_swap 使用。
	Pool        string
	InputMint   solana.PublicKey
	Source      Optional[solana.PublicKey]
	Destination Optional[solana.PublicKey]
}

// Receipt 是一次成功授权或执行的回执。
type Receipt struct {
	Owner          solana.PublicKey `json:"owner"`
	Address        solana.PublicKey `json:"address"`
	Signer         solana.PublicKey `json:"signer"`
	AmountIn       uint64           `json:"amount_in"`
	MinimumOut     uint64           `json:"minimum_amount_out"`
	TradesExecuted uint64           `json:"trades_executed"`
	Executed       bool             `json:"executed"`
	Pool           string           `json:"pool,omitempty"`
	// Signature 为链上模式提交的交易签名。
	Signature string `json:"signature,omitempty"`
}

// Reclaim 描述关闭记录后退回给所有者的押金。
type Reclaim struct {
	Recipient solana.PublicKey `json:"recipient"`
	Lamports  uint64           `json:"lamports"`
}
