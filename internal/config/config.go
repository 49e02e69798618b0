package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"SwapBot-Chain/pkg/logger"
)

// Config 描述了 SwapBot 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Program       ProgramConfig       `json:"program"`
	Storage       StorageConfig       `json:"storage"`
	Queue         QueueConfig         `json:"queue"`
	Venue         VenueConfig         `json:"venue"`
	Chain         ChainConfig         `json:"chain"`
	Auth          AuthConfig          `json:"auth"`
	Logging       logger.Config       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// ProgramConfig 描述交易机器人程序本身。
type ProgramConfig struct {
	// ProgramID 为派生地址所用的程序地址（base58）。
	ProgramID string `json:"program_id"`
	// Mode 取值 local 或 chain。local 在进程内执行闸门与模拟撮合，
	// chain 通过 RPC 将指令提交到已部署的链上程序。
	Mode string `json:"mode"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
	Redis  RedisConfig `json:"redis"`
}

// MySQLConfig 描述 MySQL 连接。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address        string `json:"address"`
	Password       string `json:"password"`
	PasswordEnv    string `json:"password_env"`
	DB             int    `json:"db"`
	KeyPrefix      string `json:"key_prefix"`
	LockTTLSeconds int    `json:"lock_ttl_seconds"`
}

// QueueConfig 描述异步交换任务的队列。
type QueueConfig struct {
	Driver      string         `json:"driver"`
	Buffer      int            `json:"buffer"`
	Workers     int            `json:"workers"`
	MaxAttempts int            `json:"max_attempts"`
	Redis       RedisConfig    `json:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
	Kafka       KafkaConfig    `json:"kafka"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	URLEnv   string `json:"url_env"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// KafkaConfig 描述 Kafka 队列。
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	GroupID string   `json:"group_id"`
}

// VenueConfig 描述撮合场所。
type VenueConfig struct {
	PoolsFile string `json:"pools_file"`
	// Simulate 为 true 时使用进程内的恒定乘积模拟器。
	Simulate bool `json:"simulate"`
}

// ChainConfig 包含访问 Solana 节点所需的 RPC 与签名信息。
type ChainConfig struct {
	RPCURL          string `json:"rpc_url"`
	Commitment      string `json:"commitment"`
	ExecutorKeypair string `json:"executor_keypair"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// AuthConfig 控制 API 请求签名校验。
type AuthConfig struct {
	Disabled            bool `json:"disabled"`
	MaxClockSkewSeconds int  `json:"max_clock_skew_seconds"`
}

// ObservabilityConfig 控制指标与告警。
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	AlertWebhook   string `json:"alert_webhook"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Program.Mode == "" {
		c.Program.Mode = "local"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MySQL.MaxOpenConns <= 0 {
		c.Storage.MySQL.MaxOpenConns = 20
	}
	if c.Storage.MySQL.MaxIdleConns <= 0 {
		c.Storage.MySQL.MaxIdleConns = 5
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "swapbot"
	}
	if c.Storage.Redis.LockTTLSeconds <= 0 {
		c.Storage.Redis.LockTTLSeconds = 30
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.Redis.KeyPrefix == "" {
		c.Queue.Redis.KeyPrefix = "swapbot"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "swapbot.jobs"
	}
	if c.Queue.Kafka.Topic == "" {
		c.Queue.Kafka.Topic = "swapbot.jobs"
	}
	if c.Queue.Kafka.GroupID == "" {
		c.Queue.Kafka.GroupID = "swapbotd"
	}

	if c.Venue.PoolsFile != "" && !filepath.IsAbs(c.Venue.PoolsFile) {
		c.Venue.PoolsFile = filepath.Join(baseDir, c.Venue.PoolsFile)
	}

	if c.Chain.Commitment == "" {
		c.Chain.Commitment = "confirmed"
	}
	if c.Chain.TimeoutSeconds <= 0 {
		c.Chain.TimeoutSeconds = 20
	}
	if c.Chain.ExecutorKeypair != "" && !filepath.IsAbs(c.Chain.ExecutorKeypair) {
		c.Chain.ExecutorKeypair = filepath.Join(baseDir, c.Chain.ExecutorKeypair)
	}

	if c.Auth.MaxClockSkewSeconds <= 0 {
		c.Auth.MaxClockSkewSeconds = 300
	}

	if c.Observability.MetricsPath == "" {
		c.Observability.MetricsPath = "/metrics"
	}

	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// applyEnv 使用环境变量覆盖敏感配置。
func (c *Config) applyEnv() {
	if v := lookupEnv(c.Storage.MySQL.DSNEnv); v != "" {
		c.Storage.MySQL.DSN = v
	}
	if v := lookupEnv(c.Storage.Redis.PasswordEnv); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := lookupEnv(c.Queue.Redis.PasswordEnv); v != "" {
		c.Queue.Redis.Password = v
	}
	if v := lookupEnv(c.Queue.RabbitMQ.URLEnv); v != "" {
		c.Queue.RabbitMQ.URL = v
	}
	if v := os.Getenv("SWAPBOT_PROGRAM_ID"); v != "" {
		c.Program.ProgramID = v
	}
}

func lookupEnv(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	switch c.Program.Mode {
	case "local", "chain":
	default:
		return fmt.Errorf("未知的运行模式: %s", c.Program.Mode)
	}
	if strings.TrimSpace(c.Program.ProgramID) == "" {
		return errors.New("program.program_id 不能为空")
	}

	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("storage.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			return errors.New("queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("queue.rabbitmq.url 不能为空")
		}
	case "kafka":
		if len(c.Queue.Kafka.Brokers) == 0 {
			return errors.New("queue.kafka.brokers 不能为空")
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}

	if c.Program.Mode == "chain" {
		if c.Chain.RPCURL == "" {
			return errors.New("chain 模式需要 chain.rpc_url")
		}
		if c.Chain.ExecutorKeypair == "" {
			return errors.New("chain 模式需要 chain.executor_keypair")
		}
	}
	return nil
}
