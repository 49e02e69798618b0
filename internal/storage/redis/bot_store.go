package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
	// LockRetry 为获取锁失败后的重试间隔。
	LockRetry time.Duration
}

const (
	fieldData     = "data"
	fieldLamports = "lamports"
)

// createScript 在地址与所有者索引都不存在时写入记录。
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[1], "lamports", ARGV[2], "owner", ARGV[3])
redis.call("SET", KEYS[2], ARGV[4])
return 1
`)

// commitScript 仅在锁仍由当前持有者持有时写回记录。
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "lamports", ARGV[3])
return 1
`)

// deleteScript 仅在锁仍由当前持有者持有时删除记录与所有者索引。
var deleteScript = redis.NewScript(`
if redis.call("GET", KEYS[2]) ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[3])
return 1
`)

// releaseScript 比较令牌后释放锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// BotStore 使用 Redis 保存配置记录。
type BotStore struct {
	client    *redis.Client
	prefix    string
	lockTTL   time.Duration
	lockRetry time.Duration
}

var _ bot.Store = (*BotStore)(nil)

// NewBotStore 创建 BotStore 并检查连接。
func NewBotStore(ctx context.Context, cfg Config) (*BotStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewBotStoreWithClient(client, cfg), nil
}

// NewBotStoreWithClient 使用已有客户端创建 BotStore。
func NewBotStoreWithClient(client *redis.Client, cfg Config) *BotStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "swapbot"
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := cfg.LockRetry
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &BotStore{client: client, prefix: prefix, lockTTL: ttl, lockRetry: retry}
}

func (s *BotStore) recordKey(addr solana.PublicKey) string {
	return fmt.Sprintf("%s:bot:%s", s.prefix, addr)
}

func (s *BotStore) ownerKey(owner solana.PublicKey) string {
	return fmt.Sprintf("%s:owner:%s", s.prefix, owner)
}

func (s *BotStore) lockKey(addr solana.PublicKey) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, addr)
}

// Create 实现 bot.Store。
func (s *BotStore) Create(ctx context.Context, acct *bot.Account) error {
	if acct == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "account 不能为空")
	}
	data, err := bot.Encode(acct.Config)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码配置失败")
	}
	keys := []string{s.recordKey(acct.Address), s.ownerKey(acct.Config.Owner)}
	created, err := createScript.Run(ctx, s.client, keys,
		data, encodeLamports(acct.Lamports), acct.Config.Owner.String(), acct.Address.String()).Int()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入配置失败")
	}
	if created == 0 {
		return bot.ErrAlreadyExists
	}
	return nil
}

// Get 实现 bot.Store。
func (s *BotStore) Get(ctx context.Context, addr solana.PublicKey) (*bot.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(addr)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询配置失败")
	}
	if len(fields) == 0 {
		return nil, bot.ErrNotFound
	}
	cfg, err := bot.Decode([]byte(fields[fieldData]))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析配置数据失败")
	}
	lamports, err := decodeLamports(fields[fieldLamports])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析押金失败")
	}
	return &bot.Account{Address: addr, Lamports: lamports, Config: cfg}, nil
}

// Update 持锁执行 fn，成功后在锁仍有效时写回。
func (s *BotStore) Update(ctx context.Context, addr solana.PublicKey, fn bot.UpdateFunc) (*bot.Account, error) {
	token, err := s.acquire(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer s.release(addr, token)

	acct, err := s.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := fn(acct); err != nil {
		return nil, err
	}
	acct.Address = addr
	data, err := bot.Encode(acct.Config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码配置失败")
	}
	ok, err := commitScript.Run(ctx, s.client, []string{s.recordKey(addr), s.lockKey(addr)},
		token, data, encodeLamports(acct.Lamports)).Int()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新配置失败")
	}
	if ok == 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "配置锁已过期，更新未提交")
	}
	return acct, nil
}

// Delete 持锁在 guard 通过后删除记录。
func (s *BotStore) Delete(ctx context.Context, addr solana.PublicKey, guard bot.UpdateFunc) (*bot.Account, error) {
	token, err := s.acquire(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer s.release(addr, token)

	acct, err := s.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		snapshot := *acct
		if err := guard(&snapshot); err != nil {
			return nil, err
		}
	}
	keys := []string{s.recordKey(addr), s.lockKey(addr), s.ownerKey(acct.Config.Owner)}
	ok, err := deleteScript.Run(ctx, s.client, keys, token).Int()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除配置失败")
	}
	if ok == 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "配置锁已过期，删除未提交")
	}
	return acct, nil
}

// Close 关闭 Redis 连接。
func (s *BotStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *BotStore) acquire(ctx context.Context, addr solana.PublicKey) (string, error) {
	token := uuid.NewString()
	key := s.lockKey(addr)
	ticker := time.NewTicker(s.lockRetry)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取配置锁失败")
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待配置锁超时")
		case <-ticker.C:
		}
	}
}

func (s *BotStore) release(addr solana.PublicKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// 释放失败时锁会在 TTL 到期后自动失效。
	_ = releaseScript.Run(ctx, s.client, []string{s.lockKey(addr)}, token).Err()
}

func encodeLamports(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeLamports(raw string) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("lamports field has %d bytes", len(raw))
	}
	return binary.LittleEndian.Uint64([]byte(raw)), nil
}
