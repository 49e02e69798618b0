package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/api"
	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	"SwapBot-Chain/internal/chain/solrpc"
	"SwapBot-Chain/internal/config"
	"SwapBot-Chain/internal/observability/alerting"
	"SwapBot-Chain/internal/observability/metrics"
	"SwapBot-Chain/internal/relay"
	"SwapBot-Chain/internal/storage/mysql"
	redisstore "SwapBot-Chain/internal/storage/redis"
	"SwapBot-Chain/internal/task"
	"SwapBot-Chain/internal/venue"
	"SwapBot-Chain/pkg/logger"
)

// main 是 SwapBot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swapbotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SWAPBOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "swapbot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	programID, err := solana.PublicKeyFromBase58(cfg.Program.ProgramID)
	if err != nil {
		return fmt.Errorf("program_id 无效: %w", err)
	}

	registry := venue.NewRegistry()
	if cfg.Venue.PoolsFile != "" {
		registry, err = venue.LoadRegistry(cfg.Venue.PoolsFile)
		if err != nil {
			return err
		}
	}

	m := metrics.New()

	var (
		reader   api.Reader
		swapper  task.Executor
		apiOpts  []api.Option
		closers  []io.Closer
		jobStore task.Store
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	switch cfg.Program.Mode {
	case "local":
		store, err := openBotStore(ctx, cfg)
		if err != nil {
			return err
		}
		closers = append(closers, store)

		opts := []bot.Option{bot.WithRecorder(m)}
		if cfg.Venue.Simulate {
			sim, err := venue.NewSimulator(registry)
			if err != nil {
				return err
			}
			opts = append(opts, bot.WithVenue(venue.NewBuilder(registry), venue.NewSignerGuard(programID, sim)))
		} else {
			logger.L().Warn("本地模式未启用模拟撮合，execute_swap 不可用")
		}
		engine := bot.NewService(programID, store, opts...)
		reader, swapper = engine, engine
		apiOpts = append(apiOpts, api.WithAdmin(engine))

	case "chain":
		rpc, err := solrpc.Dial(ctx, solrpc.Config{
			RPCURL:     cfg.Chain.RPCURL,
			Commitment: cfg.Chain.Commitment,
		})
		if err != nil {
			return err
		}
		defer rpc.Close()

		signer, err := relay.LoadSigner(cfg.Chain.ExecutorKeypair)
		if err != nil {
			return err
		}
		preflight(ctx, rpc, signer.PublicKey(), registry)

		rel, err := relay.New(programID, rpc, signer, registry,
			relay.WithTimeout(time.Duration(cfg.Chain.TimeoutSeconds)*time.Second),
		)
		if err != nil {
			return err
		}
		reader, swapper = rel, rel
		apiOpts = append(apiOpts, api.WithPreparer(rel))
	}

	if cfg.Storage.Driver == "mysql" {
		store, err := mysql.NewJobStore(ctx, mysqlConfig(cfg))
		if err != nil {
			return err
		}
		closers = append(closers, store)
		jobStore = store
	} else {
		jobStore = task.NewMemoryStore()
	}

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, queue)

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Observability.AlertWebhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Observability.AlertWebhook,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}

	processor := task.NewProcessor(swapper, jobStore, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		task.WithJobRecorder(m),
		task.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	mode := auth.ModeSignature
	if cfg.Auth.Disabled {
		mode = auth.ModeDisabled
		logger.L().Warn("API 签名校验已关闭，仅用于本地调试")
	}
	authn, err := auth.NewService(auth.Config{
		Mode:         mode,
		MaxClockSkew: time.Duration(cfg.Auth.MaxClockSkewSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	apiOpts = append(apiOpts,
		api.WithJobs(task.NewService(jobStore, queue, cfg.Queue.MaxAttempts)),
		api.WithTimeouts(
			time.Duration(cfg.Server.ReadTimeoutSeconds)*time.Second,
			time.Duration(cfg.Server.WriteTimeoutSeconds)*time.Second,
		),
	)
	if cfg.Observability.MetricsEnabled {
		apiOpts = append(apiOpts, api.WithMetrics(cfg.Observability.MetricsPath, m.Handler(), m.Middleware))
	}

	server := api.NewServer(cfg.Server.Address, authn, reader, swapper, apiOpts...)
	logger.L().Info("swapbotd 已启动",
		"address", cfg.Server.Address,
		"mode", cfg.Program.Mode,
		"program_id", programID.String(),
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Driver,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openBotStore(ctx context.Context, cfg *config.Config) (bot.Store, error) {
	switch cfg.Storage.Driver {
	case "mysql":
		return mysql.NewBotStore(ctx, mysqlConfig(cfg))
	case "redis":
		return redisstore.NewBotStore(ctx, redisstore.Config{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
			LockTTL:   time.Duration(cfg.Storage.Redis.LockTTLSeconds) * time.Second,
		})
	default:
		return bot.NewMemoryStore(), nil
	}
}

func mysqlConfig(cfg *config.Config) mysql.Config {
	return mysql.Config{
		DSN:             cfg.Storage.MySQL.DSN,
		MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		AutoMigrate:     cfg.Storage.MySQL.AutoMigrate,
	}
}

type jobQueue interface {
	task.Producer
	task.Consumer
	io.Closer
}

func openQueue(cfg *config.Config) (jobQueue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			KeyPrefix: cfg.Queue.Redis.KeyPrefix,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
		})
	case "kafka":
		return task.NewKafkaQueue(task.KafkaConfig{
			Brokers: cfg.Queue.Kafka.Brokers,
			Topic:   cfg.Queue.Kafka.Topic,
			GroupID: cfg.Queue.Kafka.GroupID,
		})
	default:
		return task.NewMemoryQueue(cfg.Queue.Buffer), nil
	}
}

// preflight 检查执行者余额与资金池账户是否存在，仅记录告警。
func preflight(ctx context.Context, rpc *solrpc.Client, executor solana.PublicKey, registry *venue.Registry) {
	plog := logger.Named("preflight")

	balance, err := rpc.GetBalance(ctx, executor)
	if err != nil {
		plog.Warn("查询执行者余额失败", "executor", executor.String(), "error", err)
	} else {
		plog.Info("执行者余额", "executor", executor.String(), "lamports", balance)
		if balance == 0 {
			plog.Warn("执行者余额为零，无法支付交易费用", "executor", executor.String())
		}
	}

	names := registry.Names()
	if len(names) == 0 {
		return
	}
	keys := make([]solana.PublicKey, 0, len(names))
	for _, name := range names {
		pool, _ := registry.Get(name)
		keys = append(keys, pool.Amm)
	}
	accounts, err := rpc.GetMultipleAccounts(ctx, keys)
	if err != nil {
		plog.Warn("批量查询资金池账户失败", "error", err)
		return
	}
	for i, acct := range accounts {
		if acct == nil {
			plog.Warn("资金池 AMM 账户不存在", "pool", names[i], "amm", keys[i].String())
		}
	}
}
