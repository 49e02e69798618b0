package venue

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

const (
	// SwapBaseInDiscriminator 选择 swap_base_in 指令。
	SwapBaseInDiscriminator uint8 = 9
	// SwapDataSize 为 [u8][u64][u64] 的负载长度。
	SwapDataSize = 1 + 8 + 8
	// SwapAccountCount 为 swap_base_in 的账户数量。
	SwapAccountCount = 18
)

// accountFlags 描述每个位置的写入与签名标记，顺序即撮合场所的接口约定。
var accountFlags = [SwapAccountCount]struct {
	Writable bool
	Signer   bool
}{
	{false, false}, // token program
	{true, false},  // amm
	{false, false}, // amm authority
	{true, false},  // amm open orders
	{true, false},  // amm target orders
	{true, false},  // pool coin vault
	{true, false},  // pool pc vault
	{false, false}, // order book program
	{true, false},  // market
	{true, false},  // bids
	{true, false},  // asks
	{true, false},  // event queue
	{true, false},  // market coin vault
	{true, false},  // market pc vault
	{false, false}, // market vault signer
	{true, false},  // user source
	{true, false},  // user destination
	{false, true},  // derived signer
}

// EncodeSwapData 按 [9][amount_in LE][minimum_amount_out LE] 编码负载。
func EncodeSwapData(amountIn, minimumAmountOut uint64) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, SwapDataSize))
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(SwapBaseInDiscriminator)
	_ = enc.WriteUint64(amountIn, binary.LittleEndian)
	_ = enc.WriteUint64(minimumAmountOut, binary.LittleEndian)
	return buf.Bytes()
}

// DecodeSwapData 解析负载，返回输入金额与最小输出。
func DecodeSwapData(data []byte) (amountIn, minimumAmountOut uint64, err error) {
	if len(data) != SwapDataSize {
		return 0, 0, xerrors.Newf(xerrors.CodeInvalidArgument, "swap 负载长度错误: %d", len(data))
	}
	dec := bin.NewBinDecoder(data)
	disc, err := dec.ReadUint8()
	if err != nil {
		return 0, 0, err
	}
	if disc != SwapBaseInDiscriminator {
		return 0, 0, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的指令鉴别符: %d", disc)
	}
	if amountIn, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return 0, 0, err
	}
	if minimumAmountOut, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return 0, 0, err
	}
	return amountIn, minimumAmountOut, nil
}

// Builder 依据资金池注册表构造 swap_base_in 指令。
type Builder struct {
	registry *Registry
}

var _ bot.CallBuilder = (*Builder)(nil)

// NewBuilder 构造 Builder。
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// TokenAccounts 返回 owner 在资金池中以 inputMint 为输入时的源与目标关联代币账户。
func TokenAccounts(pool PoolKeys, owner, inputMint solana.PublicKey) (source, destination solana.PublicKey, err error) {
	var outputMint solana.PublicKey
	switch {
	case inputMint.Equals(pool.CoinMint):
		outputMint = pool.PcMint
	case inputMint.Equals(pool.PcMint):
		outputMint = pool.CoinMint
	default:
		return source, destination, bot.ErrInvalidTokenAccount
	}
	if source, _, err = solana.FindAssociatedTokenAddress(owner, inputMint); err != nil {
		return source, destination, xerrors.Wrap(bot.CodeInvalidTokenAccount, err, "派生源代币账户失败")
	}
	if destination, _, err = solana.FindAssociatedTokenAddress(owner, outputMint); err != nil {
		return source, destination, xerrors.Wrap(bot.CodeInvalidTokenAccount, err, "派生目标代币账户失败")
	}
	return source, destination, nil
}

// BuildSwap 实现 bot.CallBuilder。
func (b *Builder) BuildSwap(owner, signer solana.PublicKey, req bot.SwapRequest) (*solana.GenericInstruction, error) {
	if b == nil || b.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "资金池注册表未初始化")
	}
	pool, ok := b.registry.Get(req.Pool)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的资金池: %s", req.Pool)
	}
	source, destination, err := TokenAccounts(pool, owner, req.InputMint)
	if err != nil {
		return nil, err
	}
	if v, ok := req.Source.Get(); ok && !v.Equals(source) {
		return nil, bot.ErrInvalidTokenAccount
	}
	if v, ok := req.Destination.Get(); ok && !v.Equals(destination) {
		return nil, bot.ErrInvalidTokenAccount
	}

	keys := [SwapAccountCount]solana.PublicKey{
		solana.TokenProgramID,
		pool.Amm,
		pool.AmmAuthority,
		pool.OpenOrders,
		pool.TargetOrders,
		pool.CoinVault,
		pool.PcVault,
		pool.MarketProgram,
		pool.Market,
		pool.Bids,
		pool.Asks,
		pool.EventQueue,
		pool.MarketCoinVault,
		pool.MarketPcVault,
		pool.MarketVaultSigner,
		source,
		destination,
		signer,
	}
	accounts := make(solana.AccountMetaSlice, 0, SwapAccountCount)
	for i, key := range keys {
		accounts = append(accounts, solana.NewAccountMeta(key, accountFlags[i].Writable, accountFlags[i].Signer))
	}
	return solana.NewInstruction(pool.ProgramID, accounts, EncodeSwapData(req.AmountIn, req.MinimumAmountOut)), nil
}
