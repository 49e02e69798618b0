// Package program builds instructions for the deployed trading bot program.
// Every instruction starts with the 8-byte sha256("global:<name>") prefix
// followed by borsh-encoded arguments.
package program

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/identity"
	"SwapBot-Chain/internal/venue"
)

// 程序入口名称。
const (
	InitializeBot = "initialize_bot"
	AuthorizeSwap = "authorize_swap"
	ExecuteSwap   = "execute_swap"
	UpdateConfig  = "update_config"
	CloseBot      = "close_bot"
)

// Discriminator 返回入口 name 的 8 字节指令前缀。
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// Name 根据指令数据前缀识别入口名称。
func Name(data []byte) (string, bool) {
	if len(data) < 8 {
		return "", false
	}
	for _, name := range []string{InitializeBot, AuthorizeSwap, ExecuteSwap, UpdateConfig, CloseBot} {
		disc := Discriminator(name)
		if bytes.Equal(data[:8], disc[:]) {
			return name, true
		}
	}
	return "", false
}

type argWriter struct {
	buf *bytes.Buffer
	enc *bin.Encoder
	err error
}

func newArgs(name string) *argWriter {
	buf := new(bytes.Buffer)
	w := &argWriter{buf: buf, enc: bin.NewBorshEncoder(buf)}
	disc := Discriminator(name)
	w.err = w.enc.WriteBytes(disc[:], false)
	return w
}

func (w *argWriter) u64(v uint64) *argWriter {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, binary.LittleEndian)
	}
	return w
}

func (w *argWriter) u16(v uint16) *argWriter {
	if w.err == nil {
		w.err = w.enc.WriteUint16(v, binary.LittleEndian)
	}
	return w
}

func (w *argWriter) flag(v bool) *argWriter {
	if w.err == nil {
		w.err = w.enc.WriteBool(v)
	}
	return w
}

func (w *argWriter) key(v solana.PublicKey) *argWriter {
	if w.err == nil {
		w.err = w.enc.WriteBytes(v.Bytes(), false)
	}
	return w
}

func (w *argWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, fmt.Errorf("编码指令参数失败: %w", w.err)
	}
	return w.buf.Bytes(), nil
}

func recordAddress(programID, owner solana.PublicKey) (solana.PublicKey, error) {
	d, err := identity.Derive(programID, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return d.Address, nil
}

// NewInitializeBot 构造 initialize_bot，owner 同时作为付款人与签名者。
// executor 为零值时使用 owner。
func NewInitializeBot(programID, owner, executor solana.PublicKey, maxTradeAmount uint64, maxSlippageBps uint16) (*solana.GenericInstruction, error) {
	addr, err := recordAddress(programID, owner)
	if err != nil {
		return nil, err
	}
	if executor.IsZero() {
		executor = owner
	}
	data, err := newArgs(InitializeBot).key(executor).u64(maxTradeAmount).u16(maxSlippageBps).bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewAuthorizeSwap 构造 authorize_swap，由执行者签名。
func NewAuthorizeSwap(programID, owner, executor solana.PublicKey, amountIn, minimumAmountOut uint64) (*solana.GenericInstruction, error) {
	addr, err := recordAddress(programID, owner)
	if err != nil {
		return nil, err
	}
	data, err := newArgs(AuthorizeSwap).u64(amountIn).u64(minimumAmountOut).bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(executor, false, true),
	}, data), nil
}

// NewExecuteSwap 构造 execute_swap。程序内部以派生签名者调用资金池。
func NewExecuteSwap(programID, owner, executor solana.PublicKey, pool venue.PoolKeys, source, destination solana.PublicKey, amountIn, minimumAmountOut uint64) (*solana.GenericInstruction, error) {
	addr, err := recordAddress(programID, owner)
	if err != nil {
		return nil, err
	}
	data, err := newArgs(ExecuteSwap).u64(amountIn).u64(minimumAmountOut).bytes()
	if err != nil {
		return nil, err
	}
	venueProgram := pool.ProgramID
	if venueProgram.IsZero() {
		venueProgram = venue.RaydiumAMMv4
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(executor, false, true),
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(venueProgram, false, false),
		solana.NewAccountMeta(pool.Amm, true, false),
		solana.NewAccountMeta(pool.AmmAuthority, false, false),
		solana.NewAccountMeta(pool.OpenOrders, true, false),
		solana.NewAccountMeta(pool.TargetOrders, true, false),
		solana.NewAccountMeta(pool.CoinVault, true, false),
		solana.NewAccountMeta(pool.PcVault, true, false),
		solana.NewAccountMeta(pool.MarketProgram, false, false),
		solana.NewAccountMeta(pool.Market, true, false),
		solana.NewAccountMeta(pool.Bids, true, false),
		solana.NewAccountMeta(pool.Asks, true, false),
		solana.NewAccountMeta(pool.EventQueue, true, false),
		solana.NewAccountMeta(pool.MarketCoinVault, true, false),
		solana.NewAccountMeta(pool.MarketPcVault, true, false),
		solana.NewAccountMeta(pool.MarketVaultSigner, false, false),
	}, data), nil
}

// NewUpdateConfig 构造 update_config，未设置的字段编码为 None。
func NewUpdateConfig(programID, owner solana.PublicKey, req bot.UpdateRequest) (*solana.GenericInstruction, error) {
	addr, err := recordAddress(programID, owner)
	if err != nil {
		return nil, err
	}
	w := newArgs(UpdateConfig)
	if v, ok := req.MaxTradeAmount.Get(); ok {
		w.flag(true).u64(v)
	} else {
		w.flag(false)
	}
	if v, ok := req.MaxSlippageBps.Get(); ok {
		w.flag(true).u16(v)
	} else {
		w.flag(false)
	}
	if v, ok := req.IsActive.Get(); ok {
		w.flag(true).flag(v)
	} else {
		w.flag(false)
	}
	data, err := w.bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, false, true),
	}, data), nil
}

// NewCloseBot 构造 close_bot，押金退回 owner。
func NewCloseBot(programID, owner solana.PublicKey) (*solana.GenericInstruction, error) {
	addr, err := recordAddress(programID, owner)
	if err != nil {
		return nil, err
	}
	data, err := newArgs(CloseBot).bytes()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, true, true),
	}, data), nil
}
