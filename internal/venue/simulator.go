package venue

import (
	"context"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

const (
	feeNumerator   = 25
	feeDenominator = 10000
)

type tokenAccount struct {
	mint   solana.PublicKey
	amount uint64
}

type simPool struct {
	keys        PoolKeys
	coinReserve uint64
	pcReserve   uint64
}

// Simulator 是进程内的恒定乘积撮合场所，校验与 Raydium AMM v4 相同的
// 指令布局。失败的调用不会改变任何余额。
type Simulator struct {
	mu       sync.Mutex
	pools    map[solana.PublicKey]*simPool
	accounts map[solana.PublicKey]*tokenAccount
	swaps    int
}

var _ bot.Invoker = (*Simulator)(nil)

// NewSimulator 以注册表中的资金池与预置余额构造 Simulator。
func NewSimulator(registry *Registry) (*Simulator, error) {
	s := &Simulator{
		pools:    make(map[solana.PublicKey]*simPool),
		accounts: make(map[solana.PublicKey]*tokenAccount),
	}
	if registry == nil {
		return s, nil
	}
	for _, pool := range registry.Pools() {
		s.AddPool(pool)
	}
	for _, f := range registry.Funding() {
		if err := s.Fund(f.Owner, f.Mint, f.Amount); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddPool 注册资金池及其储备。
func (s *Simulator) AddPool(keys PoolKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[keys.Amm] = &simPool{keys: keys, coinReserve: keys.CoinReserve, pcReserve: keys.PcReserve}
}

// Fund 为 owner 的关联代币账户增加余额。
func (s *Simulator) Fund(owner, mint solana.PublicKey, amount uint64) error {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(ata, mint)
	acct.amount += amount
	return nil
}

// Balance 返回 owner 在 mint 上的余额。
func (s *Simulator) Balance(owner, mint solana.PublicKey) uint64 {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[ata]; ok {
		return acct.amount
	}
	return 0
}

// Reserves 返回资金池当前储备。
func (s *Simulator) Reserves(amm solana.PublicKey) (coin, pc uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[amm]
	if !ok {
		return 0, 0, false
	}
	return pool.coinReserve, pool.pcReserve, true
}

// Swaps 返回已成功执行的交换次数。
func (s *Simulator) Swaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps
}

// Quote 按当前储备计算输出金额。
func (s *Simulator) Quote(amm, inputMint solana.PublicKey, amountIn uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[amm]
	if !ok {
		return 0, xerrors.New(xerrors.CodeNotFound, "资金池不存在")
	}
	in, out, err := pool.reservesFor(inputMint)
	if err != nil {
		return 0, err
	}
	return swapOut(amountIn, in, out), nil
}

// InvokeSigned 实现 bot.Invoker。
func (s *Simulator) InvokeSigned(_ context.Context, ix *solana.GenericInstruction, _ [][]byte) error {
	data, err := ix.Data()
	if err != nil {
		return err
	}
	amountIn, minimumOut, err := DecodeSwapData(data)
	if err != nil {
		return err
	}
	metas := ix.Accounts()
	if len(metas) != SwapAccountCount {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "账户数量错误: %d", len(metas))
	}
	for i, meta := range metas {
		if meta.IsWritable != accountFlags[i].Writable || meta.IsSigner != accountFlags[i].Signer {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "账户 %d 的写入或签名标记错误", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[metas[1].PublicKey]
	if !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "资金池不存在")
	}
	if !ix.ProgramID().Equals(pool.keys.ProgramID) {
		return xerrors.New(xerrors.CodeInvalidArgument, "程序地址与资金池不一致")
	}
	if err := pool.checkAccounts(metas); err != nil {
		return err
	}

	source := s.accounts[metas[15].PublicKey]
	if source == nil {
		return bot.ErrInsufficientBalance
	}
	reserveIn, reserveOut, err := pool.reservesFor(source.mint)
	if err != nil {
		return err
	}
	destination := s.account(metas[16].PublicKey, pool.otherMint(source.mint))
	if !destination.mint.Equals(pool.otherMint(source.mint)) {
		return bot.ErrInvalidTokenAccount
	}
	if source.amount < amountIn {
		return bot.ErrInsufficientBalance
	}
	out := swapOut(amountIn, reserveIn, reserveOut)
	if out == 0 || out < minimumOut {
		return bot.ErrSlippageExceeded
	}

	source.amount -= amountIn
	destination.amount += out
	if source.mint.Equals(pool.keys.CoinMint) {
		pool.coinReserve += amountIn
		pool.pcReserve -= out
	} else {
		pool.pcReserve += amountIn
		pool.coinReserve -= out
	}
	s.swaps++
	return nil
}

func (s *Simulator) account(addr, mint solana.PublicKey) *tokenAccount {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &tokenAccount{mint: mint}
		s.accounts[addr] = acct
	}
	return acct
}

func (p *simPool) checkAccounts(metas []*solana.AccountMeta) error {
	expected := [15]solana.PublicKey{
		solana.TokenProgramID,
		p.keys.Amm,
		p.keys.AmmAuthority,
		p.keys.OpenOrders,
		p.keys.TargetOrders,
		p.keys.CoinVault,
		p.keys.PcVault,
		p.keys.MarketProgram,
		p.keys.Market,
		p.keys.Bids,
		p.keys.Asks,
		p.keys.EventQueue,
		p.keys.MarketCoinVault,
		p.keys.MarketPcVault,
		p.keys.MarketVaultSigner,
	}
	for i, key := range expected {
		if !metas[i].PublicKey.Equals(key) {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "账户 %d 顺序错误", i)
		}
	}
	return nil
}

func (p *simPool) reservesFor(inputMint solana.PublicKey) (in, out uint64, err error) {
	switch {
	case inputMint.Equals(p.keys.CoinMint):
		return p.coinReserve, p.pcReserve, nil
	case inputMint.Equals(p.keys.PcMint):
		return p.pcReserve, p.coinReserve, nil
	default:
		return 0, 0, bot.ErrInvalidTokenAccount
	}
}

func (p *simPool) otherMint(mint solana.PublicKey) solana.PublicKey {
	if mint.Equals(p.keys.CoinMint) {
		return p.keys.PcMint
	}
	return p.keys.CoinMint
}

// swapOut 计算扣除手续费后的恒定乘积输出。
func swapOut(amountIn, reserveIn, reserveOut uint64) uint64 {
	if amountIn == 0 || reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	in := new(big.Int).SetUint64(amountIn)
	in.Mul(in, big.NewInt(feeDenominator-feeNumerator))
	in.Quo(in, big.NewInt(feeDenominator))

	numerator := new(big.Int).Mul(in, new(big.Int).SetUint64(reserveOut))
	denominator := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), in)
	return new(big.Int).Quo(numerator, denominator).Uint64()
}
