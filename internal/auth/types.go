package auth

import (
	"time"

	xerrors "SwapBot-Chain/internal/errors"
)

// Mode 控制请求认证方式。
type Mode string

const (
	// ModeDisabled 直接信任 X-Bot-Signer 头，仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeSignature 要求 ed25519 请求签名。
	ModeSignature Mode = "signature"
)

// 请求签名使用的 HTTP 头。
const (
	HeaderSigner    = "X-Bot-Signer"
	HeaderTimestamp = "X-Bot-Timestamp"
	HeaderSignature = "X-Bot-Signature"
)

// CodeUnauthenticated 表示请求未通过签名校验。
const CodeUnauthenticated xerrors.Code = "UNAUTHENTICATED"

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "request not authenticated",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	ErrMissingSignature = xerrors.New(CodeUnauthenticated, "缺少签名头")
	ErrInvalidSigner    = xerrors.New(CodeUnauthenticated, "签名者地址无效")
	ErrInvalidTimestamp = xerrors.New(CodeUnauthenticated, "时间戳无效")
	ErrClockSkew        = xerrors.New(CodeUnauthenticated, "时间戳超出允许偏差")
	ErrBadSignature     = xerrors.New(CodeUnauthenticated, "签名校验失败")
)

// Config 描述认证服务参数。
type Config struct {
	Mode         Mode
	MaxClockSkew time.Duration
}
