package venue

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

// SignerGuard 只放行唯一签名者等于种子派生地址的指令。
type SignerGuard struct {
	programID solana.PublicKey
	next      bot.Invoker
}

var _ bot.Invoker = (*SignerGuard)(nil)

// NewSignerGuard 构造 SignerGuard，种子按 programID 派生。
func NewSignerGuard(programID solana.PublicKey, next bot.Invoker) *SignerGuard {
	return &SignerGuard{programID: programID, next: next}
}

// InvokeSigned 实现 bot.Invoker。
func (g *SignerGuard) InvokeSigned(ctx context.Context, ix *solana.GenericInstruction, signerSeeds [][]byte) error {
	if ix == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "指令不能为空")
	}
	signer, err := solana.CreateProgramAddress(signerSeeds, g.programID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePermissionDenied, err, "签名种子无效")
	}
	var signers []solana.PublicKey
	for _, meta := range ix.Accounts() {
		if meta.IsSigner {
			signers = append(signers, meta.PublicKey)
		}
	}
	if len(signers) != 1 || !signers[0].Equals(signer) {
		return xerrors.New(xerrors.CodePermissionDenied, "指令签名者与派生签名地址不一致")
	}
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "调用已取消")
	}
	return g.next.InvokeSigned(ctx, ix, signerSeeds)
}
