package auth

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

type callerKey struct{}

// WithCaller 将通过校验的调用方写入上下文。
func WithCaller(ctx context.Context, caller solana.PublicKey) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext 返回上下文中的调用方。
func CallerFromContext(ctx context.Context) (solana.PublicKey, bool) {
	if ctx == nil {
		return solana.PublicKey{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(solana.PublicKey)
	if !ok || caller.IsZero() {
		return solana.PublicKey{}, false
	}
	return caller, true
}
