// Package relay submits executor-signed instructions to the deployed program.
// Each request is checked against the on-chain record with the same gate the
// local engine uses, so a transaction is only sent when it would pass.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/chain/solrpc"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/identity"
	"SwapBot-Chain/internal/program"
	"SwapBot-Chain/internal/venue"
	"SwapBot-Chain/pkg/logger"
)

// RPC 是中继依赖的节点接口。
type RPC interface {
	GetAccountInfo(ctx context.Context, key solana.PublicKey) (*solrpc.AccountInfo, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, interval time.Duration) (*solrpc.SignatureStatus, error)
}

var _ RPC = (*solrpc.Client)(nil)

// Option 配置 Relay。
type Option func(*Relay)

// WithTimeout 设置提交并等待确认的最长时间。
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPollInterval 设置确认轮询间隔。
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.poll = d
		}
	}
}

// Relay 以执行者密钥签名并提交交换指令。
type Relay struct {
	programID solana.PublicKey
	rpc       RPC
	signer    solana.PrivateKey
	registry  *venue.Registry
	gate      bot.Gate
	timeout   time.Duration
	poll      time.Duration
}

// LoadSigner 读取 solana-keygen 生成的密钥文件。
func LoadSigner(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取执行者密钥失败")
	}
	return key, nil
}

// New 构造中继。
func New(programID solana.PublicKey, rpc RPC, signer solana.PrivateKey, registry *venue.Registry, opts ...Option) (*Relay, error) {
	if rpc == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 Solana RPC")
	}
	if len(signer) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行者密钥")
	}
	r := &Relay{
		programID: programID,
		rpc:       rpc,
		signer:    signer,
		registry:  registry,
		gate:      bot.Gate{ProgramID: programID},
		timeout:   30 * time.Second,
		poll:      500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Executor 返回中继签名使用的公钥。
func (r *Relay) Executor() solana.PublicKey {
	return r.signer.PublicKey()
}

// Get 读取并解码 owner 的链上配置记录。
func (r *Relay) Get(ctx context.Context, owner solana.PublicKey) (*bot.Account, error) {
	d, err := identity.Derive(r.programID, owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "派生配置地址失败")
	}
	info, err := r.rpc.GetAccountInfo(ctx, d.Address)
	if err != nil {
		return nil, chainFailure(err)
	}
	if info == nil {
		return nil, bot.ErrNotFound
	}
	if !info.Owner.Equals(r.programID) {
		return nil, bot.ErrUnauthorized
	}
	cfg, err := bot.Decode(info.Data)
	if err != nil {
		return nil, xerrors.Wrap(bot.CodeUnauthorized, err, "链上记录无法解码")
	}
	return &bot.Account{Address: d.Address, Lamports: info.Lamports, Config: cfg}, nil
}

// AuthorizeSwap 校验后提交 authorize_swap，交换本身由外部执行。
func (r *Relay) AuthorizeSwap(ctx context.Context, caller, owner solana.PublicKey, req bot.SwapRequest) (*bot.Receipt, error) {
	acct, next, err := r.check(ctx, caller, owner, req)
	if err != nil {
		return nil, err
	}
	ix, err := program.NewAuthorizeSwap(r.programID, owner, caller, req.AmountIn, req.MinimumAmountOut)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 authorize_swap 失败")
	}
	sig, err := r.submit(ctx, ix)
	if err != nil {
		var txErr *solrpc.TransactionError
		if errors.As(err, &txErr) {
			return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "authorize_swap 执行失败", xerrors.WithRetryable(false))
		}
		return nil, err
	}
	receipt := &bot.Receipt{
		Owner:          owner,
		Address:        acct.Address,
		Signer:         acct.Address,
		AmountIn:       req.AmountIn,
		MinimumOut:     req.MinimumAmountOut,
		TradesExecuted: next,
		Signature:      sig.String(),
	}
	logger.Audit().Info("链上交换已授权",
		slog.String("owner", owner.String()),
		slog.String("signature", receipt.Signature),
		slog.Uint64("amount_in", req.AmountIn),
		slog.Uint64("trades_executed", next),
	)
	return receipt, nil
}

// ExecuteSwap 校验后提交 execute_swap，由程序以派生签名者调用资金池。
func (r *Relay) ExecuteSwap(ctx context.Context, caller, owner solana.PublicKey, req bot.SwapRequest) (*bot.Receipt, error) {
	if r.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "资金池注册表未初始化")
	}
	acct, next, err := r.check(ctx, caller, owner, req)
	if err != nil {
		return nil, err
	}
	pool, ok := r.registry.Get(req.Pool)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的资金池: %s", req.Pool)
	}
	source, destination, err := venue.TokenAccounts(pool, owner, req.InputMint)
	if err != nil {
		return nil, err
	}
	if v, ok := req.Source.Get(); ok && !v.Equals(source) {
		return nil, bot.ErrInvalidTokenAccount
	}
	if v, ok := req.Destination.Get(); ok && !v.Equals(destination) {
		return nil, bot.ErrInvalidTokenAccount
	}
	ix, err := program.NewExecuteSwap(r.programID, owner, caller, pool, source, destination, req.AmountIn, req.MinimumAmountOut)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 execute_swap 失败")
	}
	sig, err := r.submit(ctx, ix)
	if err != nil {
		var txErr *solrpc.TransactionError
		if errors.As(err, &txErr) {
			return nil, bot.DownstreamFailure(err)
		}
		return nil, err
	}
	receipt := &bot.Receipt{
		Owner:          owner,
		Address:        acct.Address,
		Signer:         acct.Address,
		AmountIn:       req.AmountIn,
		MinimumOut:     req.MinimumAmountOut,
		TradesExecuted: next,
		Executed:       true,
		Pool:           req.Pool,
		Signature:      sig.String(),
	}
	logger.Audit().Info("链上交换已执行",
		slog.String("owner", owner.String()),
		slog.String("pool", req.Pool),
		slog.String("signature", receipt.Signature),
		slog.Uint64("amount_in", req.AmountIn),
		slog.Uint64("trades_executed", next),
	)
	return receipt, nil
}

func (r *Relay) check(ctx context.Context, caller, owner solana.PublicKey, req bot.SwapRequest) (*bot.Account, uint64, error) {
	acct, err := r.Get(ctx, owner)
	if err != nil && !xerrors.HasCode(err, xerrors.CodeNotFound) {
		return nil, 0, err
	}
	next, err := r.gate.Check(owner, caller, acct, req)
	if err != nil {
		logger.L().Info("链上交换被拒绝",
			slog.String("owner", owner.String()),
			slog.String("caller", caller.String()),
			slog.String("code", string(xerrors.CodeOf(err))),
		)
		return nil, 0, err
	}
	if !caller.Equals(r.Executor()) {
		return nil, 0, xerrors.New(xerrors.CodePermissionDenied, "中继密钥与调用者不一致")
	}
	return acct, next, nil
}

func (r *Relay) submit(ctx context.Context, ix solana.Instruction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blockhash, err := r.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, chainFailure(err)
	}
	payer := r.Executor()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造交易失败")
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &r.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易签名失败")
	}
	sig, err := r.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, chainFailure(err)
	}
	logger.L().Debug("交易已提交", slog.String("signature", sig.String()))
	if _, err := r.rpc.WaitForConfirmation(ctx, sig, r.poll); err != nil {
		var txErr *solrpc.TransactionError
		if errors.As(err, &txErr) {
			return sig, err
		}
		return sig, unconfirmed(sig, err)
	}
	return sig, nil
}

// unconfirmed 描述已发送但未确认的交易：交易仍可能上链，不可重试，
// 签名写入元数据供人工核对。
func unconfirmed(sig solana.Signature, err error) error {
	code := xerrors.CodeChainFailure
	if errors.Is(err, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	return xerrors.Wrap(code, err, fmt.Sprintf("交易 %s 已提交但未确认", sig),
		xerrors.WithRetryable(false),
		xerrors.WithAlert(true),
		xerrors.WithMetadata("signature", sig.String()),
	)
}

func chainFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "等待链上确认超时")
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, "Solana RPC 调用失败")
}
