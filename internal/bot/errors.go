package bot

import (
	xerrors "SwapBot-Chain/internal/errors"
)

const (
	CodeBotNotActive         xerrors.Code = "BOT_NOT_ACTIVE"
	CodeAmountExceedsLimit   xerrors.Code = "AMOUNT_EXCEEDS_LIMIT"
	CodeInsufficientBalance  xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeInvalidSlippage      xerrors.Code = "INVALID_SLIPPAGE"
	CodeUnauthorizedBackend  xerrors.Code = "UNAUTHORIZED_BACKEND"
	CodeInvalidTokenAccount  xerrors.Code = "INVALID_TOKEN_ACCOUNT"
	CodeSlippageExceeded     xerrors.Code = "SLIPPAGE_EXCEEDED"
	CodeDownstreamCallFailed xerrors.Code = "DOWNSTREAM_CALL_FAILED"
	CodeCounterOverflow      xerrors.Code = "COUNTER_OVERFLOW"
	CodeUnauthorized         xerrors.Code = "UNAUTHORIZED"
	CodeAlreadyExists        xerrors.Code = "ALREADY_EXISTS"
)

var (
	// ErrNotFound 表示所有者没有配置记录。
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "bot config not found")
	// ErrAlreadyExists 表示所有者的配置记录已存在。
	ErrAlreadyExists = xerrors.New(CodeAlreadyExists, "bot config already exists")
	// ErrBotNotActive 表示机器人已停用。
	ErrBotNotActive = xerrors.New(CodeBotNotActive, "bot is not active")
	// ErrAmountExceedsLimit 表示输入金额超过单笔上限。
	ErrAmountExceedsLimit = xerrors.New(CodeAmountExceedsLimit, "trade amount exceeds maximum limit")
	// ErrInsufficientBalance 表示源账户余额不足。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "insufficient balance")
	// ErrInvalidSlippage 表示滑点超过 10000 基点。
	ErrInvalidSlippage = xerrors.New(CodeInvalidSlippage, "invalid slippage: must be <= 10000 bps")
	// ErrUnauthorizedBackend 表示调用者不是执行者。
	ErrUnauthorizedBackend = xerrors.New(CodeUnauthorizedBackend, "unauthorized backend authority")
	// ErrInvalidTokenAccount 表示代币账户与所有者或资金池不匹配。
	ErrInvalidTokenAccount = xerrors.New(CodeInvalidTokenAccount, "invalid token account")
	// ErrSlippageExceeded 表示最小输出不满足滑点要求。
	ErrSlippageExceeded = xerrors.New(CodeSlippageExceeded, "slippage tolerance exceeded")
	// ErrCounterOverflow 表示交易计数器溢出。
	ErrCounterOverflow = xerrors.New(CodeCounterOverflow, "trade counter overflow")
	// ErrUnauthorized 表示调用者不是所有者或记录与所有者不匹配。
	ErrUnauthorized = xerrors.New(CodeUnauthorized, "unauthorized: owner mismatch")
)

func init() {
	register := func(code xerrors.Code, message string, severity xerrors.Severity, alert bool) {
		xerrors.Register(code, xerrors.Attributes{Message: message, Severity: severity, Alert: alert})
	}
	register(CodeBotNotActive, "bot is not active", xerrors.SeverityInfo, false)
	register(CodeAmountExceedsLimit, "trade amount exceeds maximum limit", xerrors.SeverityWarning, false)
	register(CodeInsufficientBalance, "insufficient balance", xerrors.SeverityInfo, false)
	register(CodeInvalidSlippage, "invalid slippage", xerrors.SeverityInfo, false)
	register(CodeUnauthorizedBackend, "unauthorized backend authority", xerrors.SeverityWarning, true)
	register(CodeInvalidTokenAccount, "invalid token account", xerrors.SeverityWarning, false)
	register(CodeSlippageExceeded, "slippage tolerance exceeded", xerrors.SeverityInfo, false)
	register(CodeDownstreamCallFailed, "downstream venue call failed", xerrors.SeverityWarning, true)
	register(CodeCounterOverflow, "trade counter overflow", xerrors.SeverityCritical, true)
	register(CodeUnauthorized, "unauthorized", xerrors.SeverityWarning, true)
	register(CodeAlreadyExists, "bot config already exists", xerrors.SeverityInfo, false)
}

// DownstreamFailure 包装撮合场所调用返回的错误。只有场所自身能报告的
// 余额、滑点与代币账户错误原样透传，其余一律为 DownstreamCallFailed。
func DownstreamFailure(err error) error {
	if err == nil {
		return nil
	}
	switch xerrors.CodeOf(err) {
	case CodeInsufficientBalance, CodeSlippageExceeded, CodeInvalidTokenAccount, CodeDownstreamCallFailed:
		return err
	}
	return xerrors.Wrap(CodeDownstreamCallFailed, err, "撮合场所调用失败")
}
