package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	gomysql "github.com/go-sql-driver/mysql"

	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
)

const mysqlDuplicateEntry = 1062

// BotStore 将配置记录保存在 bot_configs 表中，data 列为固定二进制布局。
// 同一地址的更新通过 SELECT ... FOR UPDATE 行锁串行化。
type BotStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ bot.Store = (*BotStore)(nil)

// NewBotStore 打开连接并按需执行迁移。
func NewBotStore(ctx context.Context, cfg Config) (*BotStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化配置存储失败")
	}
	return newBotStore(db), nil
}

func newBotStore(db *sql.DB) *BotStore {
	return &BotStore{db: db, now: time.Now}
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
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, insertBotSQL,
		acct.Address.String(),
		acct.Config.Owner.String(),
		acct.Config.ExecutorAuthority.String(),
		acct.Lamports,
		data,
		boolToInt(acct.Config.IsActive),
		acct.Config.TradesExecuted,
		now,
		now,
	)
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return bot.ErrAlreadyExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入配置失败")
	}
	return nil
}

// Get 实现 bot.Store。
func (s *BotStore) Get(ctx context.Context, addr solana.PublicKey) (*bot.Account, error) {
	row := s.db.QueryRowContext(ctx, selectBotSQL, addr.String())
	return scanAccount(row)
}

// Update 在事务中锁定记录行，fn 成功后写回。
func (s *BotStore) Update(ctx context.Context, addr solana.PublicKey, fn bot.UpdateFunc) (*bot.Account, error) {
	var out *bot.Account
	err := s.withLockedRow(ctx, addr, func(tx *sql.Tx, acct *bot.Account) error {
		if err := fn(acct); err != nil {
			return err
		}
		acct.Address = addr
		data, err := bot.Encode(acct.Config)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码配置失败")
		}
		if _, err := tx.ExecContext(ctx, updateBotSQL,
			acct.Config.ExecutorAuthority.String(),
			acct.Lamports,
			data,
			boolToInt(acct.Config.IsActive),
			acct.Config.TradesExecuted,
			s.now().Unix(),
			addr.String(),
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新配置失败")
		}
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 在事务中锁定记录行，guard 通过后删除。
func (s *BotStore) Delete(ctx context.Context, addr solana.PublicKey, guard bot.UpdateFunc) (*bot.Account, error) {
	var removed *bot.Account
	err := s.withLockedRow(ctx, addr, func(tx *sql.Tx, acct *bot.Account) error {
		if guard != nil {
			snapshot := *acct
			if err := guard(&snapshot); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, deleteBotSQL, addr.String()); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除配置失败")
		}
		removed = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Close 释放连接池。
func (s *BotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BotStore) withLockedRow(ctx context.Context, addr solana.PublicKey, fn func(*sql.Tx, *bot.Account) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	acct, err := scanAccount(tx.QueryRowContext(ctx, selectBotForUpdateSQL, addr.String()))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx, acct); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

func scanAccount(row *sql.Row) (*bot.Account, error) {
	var (
		address  string
		lamports uint64
		data     []byte
	)
	if err := row.Scan(&address, &lamports, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bot.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询配置失败")
	}
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析配置地址失败")
	}
	cfg, err := bot.Decode(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析配置数据失败")
	}
	return &bot.Account{Address: key, Lamports: lamports, Config: cfg}, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

const (
	insertBotSQL = `INSERT INTO bot_configs
    (address, owner, executor_authority, lamports, data, is_active, trades_executed, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectBotSQL          = `SELECT address, lamports, data FROM bot_configs WHERE address = ?`
	selectBotForUpdateSQL = `SELECT address, lamports, data FROM bot_configs WHERE address = ? FOR UPDATE`
	updateBotSQL          = `UPDATE bot_configs SET executor_authority = ?, lamports = ?, data = ?, is_active = ?, trades_executed = ?, updated_at = ?
    WHERE address = ?`
	deleteBotSQL = `DELETE FROM bot_configs WHERE address = ?`
)
