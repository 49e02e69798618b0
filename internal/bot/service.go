package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/identity"
	"SwapBot-Chain/pkg/logger"
)

// CallBuilder 构造撮合场所的交换指令，signer 为派生签名地址。
type CallBuilder interface {
	BuildSwap(owner, signer solana.PublicKey, req SwapRequest) (*solana.GenericInstruction, error)
}

// Invoker 以派生签名者的种子发起跨程序调用。
type Invoker interface {
	InvokeSigned(ctx context.Context, ix *solana.GenericInstruction, signerSeeds [][]byte) error
}

// Recorder 记录每次入口调用的结果与耗时。
type Recorder interface {
	ObserveOperation(op, result string, elapsed time.Duration)
}

// Option 配置 Service。
type Option func(*Service)

// WithVenue 设置 execute_swap 使用的指令构造器与调用器。
func WithVenue(builder CallBuilder, invoker Invoker) Option {
	return func(s *Service) {
		s.builder = builder
		s.invoker = invoker
	}
}

// WithRecorder 设置指标记录器。
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// Service 实现管理入口与委托交换。每个入口都是一次全有或全无的调用。
type Service struct {
	programID solana.PublicKey
	store     Store
	gate      Gate
	builder   CallBuilder
	invoker   Invoker
	recorder  Recorder
}

// NewService 构造机器人服务。
func NewService(programID solana.PublicKey, store Store, opts ...Option) *Service {
	s := &Service{programID: programID, store: store, gate: Gate{ProgramID: programID}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ProgramID 返回派生地址所用的程序地址。
func (s *Service) ProgramID() solana.PublicKey {
	return s.programID
}

// Initialize 为 owner 创建配置记录，调用者必须是 owner。
func (s *Service) Initialize(ctx context.Context, caller, owner solana.PublicKey, req InitializeRequest) (acct *Account, err error) {
	defer s.observe("initialize", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !caller.Equals(owner) {
		return nil, ErrUnauthorized
	}
	if req.MaxSlippageBps > MaxSlippageBps {
		return nil, ErrInvalidSlippage
	}
	d, err := identity.Derive(s.programID, owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "派生配置地址失败")
	}

	executor := owner
	if v, ok := req.ExecutorAuthority.Get(); ok && !v.IsZero() {
		executor = v
	}
	acct = &Account{
		Address:  d.Address,
		Lamports: StorageStake,
		Config: BotConfig{
			Owner:             owner,
			ExecutorAuthority: executor,
			MaxTradeAmount:    req.MaxTradeAmount,
			MaxSlippageBps:    req.MaxSlippageBps,
			IsActive:          true,
			TradesExecuted:    0,
			Bump:              d.Bump,
		},
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, err
	}
	logger.Audit().Info("机器人配置已创建",
		slog.String("owner", owner.String()),
		slog.String("address", d.Address.String()),
		slog.String("executor_authority", executor.String()),
		slog.Uint64("max_trade_amount", req.MaxTradeAmount),
		slog.Int("max_slippage_bps", int(req.MaxSlippageBps)),
		slog.Uint64("lamports", acct.Lamports),
	)
	return acct, nil
}

// UpdateConfig 仅更新请求中设置的字段。所有字段先校验，全部通过后才写入。
func (s *Service) UpdateConfig(ctx context.Context, caller, owner solana.PublicKey, req UpdateRequest) (acct *Account, err error) {
	defer s.observe("update_config", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	addr, err := s.address(owner)
	if err != nil {
		return nil, err
	}
	acct, err = s.store.Update(ctx, addr, func(a *Account) error {
		if err := s.checkOwner(owner, caller, a); err != nil {
			return err
		}
		if v, ok := req.MaxSlippageBps.Get(); ok && v > MaxSlippageBps {
			return ErrInvalidSlippage
		}
		if v, ok := req.MaxTradeAmount.Get(); ok {
			a.Config.MaxTradeAmount = v
		}
		if v, ok := req.MaxSlippageBps.Get(); ok {
			a.Config.MaxSlippageBps = v
		}
		if v, ok := req.IsActive.Get(); ok {
			a.Config.IsActive = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("机器人配置已更新",
		slog.String("owner", owner.String()),
		slog.Uint64("max_trade_amount", acct.Config.MaxTradeAmount),
		slog.Int("max_slippage_bps", int(acct.Config.MaxSlippageBps)),
		slog.Bool("is_active", acct.Config.IsActive),
	)
	return acct, nil
}

// CloseBot 删除记录并把押金退回 owner。
func (s *Service) CloseBot(ctx context.Context, caller, owner solana.PublicKey) (reclaim Reclaim, err error) {
	defer s.observe("close_bot", time.Now(), &err)
	if err := s.ready(); err != nil {
		return Reclaim{}, err
	}
	addr, err := s.address(owner)
	if err != nil {
		return Reclaim{}, err
	}
	removed, err := s.store.Delete(ctx, addr, func(a *Account) error {
		return s.checkOwner(owner, caller, a)
	})
	if err != nil {
		return Reclaim{}, err
	}
	reclaim = Reclaim{Recipient: removed.Config.Owner, Lamports: removed.Lamports}
	logger.Audit().Info("机器人配置已关闭",
		slog.String("owner", owner.String()),
		slog.Uint64("trades_executed", removed.Config.TradesExecuted),
		slog.Uint64("reclaimed_lamports", reclaim.Lamports),
	)
	return reclaim, nil
}

// AuthorizeSwap 校验并计数一次由外部执行的交换，不调用撮合场所。
func (s *Service) AuthorizeSwap(ctx context.Context, caller, owner solana.PublicKey, req SwapRequest) (receipt *Receipt, err error) {
	defer s.observe("authorize_swap", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	addr, err := s.address(owner)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.Update(ctx, addr, func(a *Account) error {
		next, err := s.gate.Check(owner, caller, a, req)
		if err != nil {
			return err
		}
		a.Config.TradesExecuted = next
		return nil
	})
	if err != nil {
		s.logRejected("authorize_swap", owner, caller, req, err)
		return nil, err
	}
	receipt = &Receipt{
		Owner:          owner,
		Address:        acct.Address,
		Signer:         acct.Address,
		AmountIn:       req.AmountIn,
		MinimumOut:     req.MinimumAmountOut,
		TradesExecuted: acct.Config.TradesExecuted,
	}
	logger.Audit().Info("交换已授权",
		slog.String("owner", owner.String()),
		slog.String("executor", caller.String()),
		slog.Uint64("amount_in", req.AmountIn),
		slog.Uint64("minimum_amount_out", req.MinimumAmountOut),
		slog.Uint64("trades_executed", receipt.TradesExecuted),
	)
	return receipt, nil
}

// ExecuteSwap 校验、构造并以派生签名者调用撮合场所。
// 计数器递增与调用结果在同一独占更新中提交，调用失败时不写入。
func (s *Service) ExecuteSwap(ctx context.Context, caller, owner solana.PublicKey, req SwapRequest) (receipt *Receipt, err error) {
	defer s.observe("execute_swap", time.Now(), &err)
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.builder == nil || s.invoker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "撮合场所未配置")
	}
	addr, err := s.address(owner)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.Update(ctx, addr, func(a *Account) error {
		next, err := s.gate.Check(owner, caller, a, req)
		if err != nil {
			return err
		}
		ix, err := s.builder.BuildSwap(owner, a.Address, req)
		if err != nil {
			return err
		}
		seeds := identity.SignerSeeds(owner, a.Config.Bump)
		if err := s.invoker.InvokeSigned(ctx, ix, seeds); err != nil {
			return DownstreamFailure(err)
		}
		a.Config.TradesExecuted = next
		return nil
	})
	if err != nil {
		s.logRejected("execute_swap", owner, caller, req, err)
		return nil, err
	}
	receipt = &Receipt{
		Owner:          owner,
		Address:        acct.Address,
		Signer:         acct.Address,
		AmountIn:       req.AmountIn,
		MinimumOut:     req.MinimumAmountOut,
		TradesExecuted: acct.Config.TradesExecuted,
		Executed:       true,
		Pool:           req.Pool,
	}
	logger.Audit().Info("交换已执行",
		slog.String("owner", owner.String()),
		slog.String("executor", caller.String()),
		slog.String("pool", req.Pool),
		slog.Uint64("amount_in", req.AmountIn),
		slog.Uint64("minimum_amount_out", req.MinimumAmountOut),
		slog.Uint64("trades_executed", receipt.TradesExecuted),
	)
	return receipt, nil
}

// Get 返回 owner 的配置记录。
func (s *Service) Get(ctx context.Context, owner solana.PublicKey) (*Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	addr, err := s.address(owner)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, addr)
}

// Close 释放存储资源。
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "机器人存储未初始化")
	}
	return nil
}

func (s *Service) address(owner solana.PublicKey) (solana.PublicKey, error) {
	d, err := identity.Derive(s.programID, owner)
	if err != nil {
		return solana.PublicKey{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "派生配置地址失败")
	}
	return d.Address, nil
}

func (s *Service) checkOwner(owner, caller solana.PublicKey, a *Account) error {
	if !a.Config.Owner.Equals(owner) || !identity.Verify(s.programID, owner, a.Config.Bump, a.Address) {
		return ErrUnauthorized
	}
	if !caller.Equals(owner) {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) logRejected(op string, owner, caller solana.PublicKey, req SwapRequest, err error) {
	level := slog.LevelInfo
	if xerrors.ShouldAlert(err) {
		level = slog.LevelWarn
	}
	logger.L().Log(context.Background(), level, "交换被拒绝",
		slog.String("op", op),
		slog.String("owner", owner.String()),
		slog.String("caller", caller.String()),
		slog.Uint64("amount_in", req.AmountIn),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	)
}

func (s *Service) observe(op string, started time.Time, errp *error) {
	if s == nil || s.recorder == nil {
		return
	}
	result := "ok"
	if errp != nil && *errp != nil {
		result = string(xerrors.CodeOf(*errp))
	}
	s.recorder.ObserveOperation(op, result, time.Since(started))
}
