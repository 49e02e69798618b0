package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	xerrors "SwapBot-Chain/internal/errors"
)

const maxSignedBody = 1 << 20

// Middleware 校验请求签名，将签名者作为调用方写入上下文并记录审计日志。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			writeUnauthenticated(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败"))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := s.Verify(r.Method, r.URL.Path, r.Header, body)
		if err != nil {
			s.audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err.Error(),
			)
			writeUnauthenticated(w, err)
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(WithCaller(r.Context(), caller)))
		s.audit.Info("api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"caller", caller.String(),
		)
	})
}

func writeUnauthenticated(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
