package relay

import (
	"context"
	"encoding/base64"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/program"
)

// PreparedTransaction 是等待所有者钱包签名的交易。
type PreparedTransaction struct {
	Instruction string `json:"instruction"`
	Payer       string `json:"payer"`
	Blockhash   string `json:"blockhash"`
	// Transaction 为 base64 编码的未签名交易，签名位以零填充。
	Transaction string `json:"transaction"`
}

// PrepareInitialize 构造由 owner 签名的 initialize_bot 交易。
func (r *Relay) PrepareInitialize(ctx context.Context, owner solana.PublicKey, req bot.InitializeRequest) (*PreparedTransaction, error) {
	if req.MaxSlippageBps > bot.MaxSlippageBps {
		return nil, bot.ErrInvalidSlippage
	}
	executor, _ := req.ExecutorAuthority.Get()
	ix, err := program.NewInitializeBot(r.programID, owner, executor, req.MaxTradeAmount, req.MaxSlippageBps)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 initialize_bot 失败")
	}
	return r.prepare(ctx, program.InitializeBot, owner, ix)
}

// PrepareUpdate 构造由 owner 签名的 update_config 交易。
func (r *Relay) PrepareUpdate(ctx context.Context, owner solana.PublicKey, req bot.UpdateRequest) (*PreparedTransaction, error) {
	if v, ok := req.MaxSlippageBps.Get(); ok && v > bot.MaxSlippageBps {
		return nil, bot.ErrInvalidSlippage
	}
	ix, err := program.NewUpdateConfig(r.programID, owner, req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 update_config 失败")
	}
	return r.prepare(ctx, program.UpdateConfig, owner, ix)
}

// PrepareClose 构造由 owner 签名的 close_bot 交易。
func (r *Relay) PrepareClose(ctx context.Context, owner solana.PublicKey) (*PreparedTransaction, error) {
	ix, err := program.NewCloseBot(r.programID, owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 close_bot 失败")
	}
	return r.prepare(ctx, program.CloseBot, owner, ix)
}

func (r *Relay) prepare(ctx context.Context, name string, owner solana.PublicKey, ix solana.Instruction) (*PreparedTransaction, error) {
	blockhash, err := r.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, chainFailure(err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造交易失败")
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化交易失败")
	}
	return &PreparedTransaction{
		Instruction: name,
		Payer:       owner.String(),
		Blockhash:   blockhash.String(),
		Transaction: base64.StdEncoding.EncodeToString(raw),
	}, nil
}
