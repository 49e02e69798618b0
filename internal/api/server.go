package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/relay"
	"SwapBot-Chain/internal/task"
)

// Reader 读取所有者的配置记录。
type Reader interface {
	Get(ctx context.Context, owner solana.PublicKey) (*bot.Account, error)
}

// Admin 为本地模式的管理入口，由 bot.Service 实现。
type Admin interface {
	Initialize(ctx context.Context, caller, owner solana.PublicKey, req bot.InitializeRequest) (*bot.Account, error)
	UpdateConfig(ctx context.Context, caller, owner solana.PublicKey, req bot.UpdateRequest) (*bot.Account, error)
	CloseBot(ctx context.Context, caller, owner solana.PublicKey) (bot.Reclaim, error)
}

// Preparer 为链上模式构造待所有者签名的管理交易，由 relay.Relay 实现。
type Preparer interface {
	PrepareInitialize(ctx context.Context, owner solana.PublicKey, req bot.InitializeRequest) (*relay.PreparedTransaction, error)
	PrepareUpdate(ctx context.Context, owner solana.PublicKey, req bot.UpdateRequest) (*relay.PreparedTransaction, error)
	PrepareClose(ctx context.Context, owner solana.PublicKey) (*relay.PreparedTransaction, error)
}

var (
	_ Reader        = (*bot.Service)(nil)
	_ Reader        = (*relay.Relay)(nil)
	_ Admin         = (*bot.Service)(nil)
	_ Preparer      = (*relay.Relay)(nil)
	_ task.Executor = (*relay.Relay)(nil)
)

// Option 配置 Server。
type Option func(*Server)

// WithAdmin 启用本地模式管理入口。
func WithAdmin(admin Admin) Option {
	return func(s *Server) { s.admin = admin }
}

// WithPreparer 启用链上模式的交易准备。
func WithPreparer(p Preparer) Option {
	return func(s *Server) { s.preparer = p }
}

// WithJobs 启用异步任务接口。
func WithJobs(jobs *task.Service) Option {
	return func(s *Server) { s.jobs = jobs }
}

// WithMetrics 挂载指标中间件与导出端点。
func WithMetrics(path string, handler http.Handler, middleware func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = handler
		s.metricsMiddleware = middleware
	}
}

// WithTimeouts 设置读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// Server 暴露机器人管理、委托交换与任务查询的 REST 接口。
type Server struct {
	addr     string
	auth     *auth.Service
	reader   Reader
	swapper  task.Executor
	admin    Admin
	preparer Preparer
	jobs     *task.Service

	metricsPath       string
	metricsHandler    http.Handler
	metricsMiddleware func(http.Handler) http.Handler

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, authn *auth.Service, reader Reader, swapper task.Executor, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		auth:         authn,
		reader:       reader,
		swapper:      swapper,
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 构造路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.metricsMiddleware != nil {
		r.Use(s.metricsMiddleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsHandler != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.metricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if s.auth != nil {
			api.Use(s.auth.Middleware)
		}
		api.Post("/bots", s.handleInitialize)
		api.Get("/bots/{owner}", s.handleGetBot)
		api.Patch("/bots/{owner}", s.handleUpdate)
		api.Delete("/bots/{owner}", s.handleClose)
		api.Post("/bots/{owner}/authorize", s.handleAuthorize)
		api.Post("/bots/{owner}/swaps", s.handleExecute)

		api.Post("/jobs", s.handleSubmitJob)
		api.Get("/jobs", s.handleListJobs)
		api.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
