package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/task"
	"SwapBot-Chain/pkg/logger"
)

var (
	errAdminUnavailable = xerrors.New(xerrors.CodeInitializationFailure, "管理接口未启用")
	errJobsUnavailable  = xerrors.New(xerrors.CodeInitializationFailure, "任务接口未启用")
)

// errorBody 是所有错误响应的统一格式。
type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	body := errorBody{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
	}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeJobValidation,
		bot.CodeInvalidSlippage, bot.CodeInvalidTokenAccount:
		return http.StatusBadRequest
	case auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case bot.CodeUnauthorized, bot.CodeUnauthorizedBackend, xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound, task.CodeJobNotFound:
		return http.StatusNotFound
	case bot.CodeAlreadyExists, xerrors.CodeConflict, task.CodeJobConflict, task.CodeJobCompleted:
		return http.StatusConflict
	case bot.CodeBotNotActive, bot.CodeAmountExceedsLimit, bot.CodeSlippageExceeded,
		bot.CodeInsufficientBalance, bot.CodeCounterOverflow, task.CodeJobExhausted:
		return http.StatusUnprocessableEntity
	case bot.CodeDownstreamCallFailed, xerrors.CodeChainFailure:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure, task.CodeJobPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
