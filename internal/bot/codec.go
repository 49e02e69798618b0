package bot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// AccountSize 为记录的固定字节长度：8 字节鉴别符 + 84 字节字段。
const AccountSize = 8 + 32 + 32 + 8 + 2 + 1 + 8 + 1

// accountDiscriminator 为 sha256("account:TradeBotConfig") 的前 8 字节。
var accountDiscriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("account:TradeBotConfig"))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}()

// AccountDiscriminator 返回记录布局的鉴别符。
func AccountDiscriminator() [8]byte {
	return accountDiscriminator
}

// RentExemptLamports 返回保存 size 字节数据所需的免租押金。
func RentExemptLamports(size int) uint64 {
	const (
		accountOverhead     = 128
		lamportsPerByteYear = 3480
		exemptionYears      = 2
	)
	return uint64(accountOverhead+size) * lamportsPerByteYear * exemptionYears
}

// StorageStake 为创建一条记录所需的押金。
var StorageStake = RentExemptLamports(AccountSize)

// Encode 将配置编码为固定布局。
func Encode(cfg BotConfig) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, AccountSize))
	enc := bin.NewBinEncoder(buf)

	disc := accountDiscriminator
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(cfg.Owner.Bytes(), false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(cfg.ExecutorAuthority.Bytes(), false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(cfg.MaxTradeAmount, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(cfg.MaxSlippageBps, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(cfg.IsActive); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(cfg.TradesExecuted, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(cfg.Bump); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode 解析固定布局，鉴别符或长度不符时返回错误。
func Decode(data []byte) (BotConfig, error) {
	var cfg BotConfig
	if len(data) != AccountSize {
		return cfg, fmt.Errorf("bot config data length %d, want %d", len(data), AccountSize)
	}
	dec := bin.NewBinDecoder(data)

	disc, err := dec.ReadNBytes(8)
	if err != nil {
		return cfg, err
	}
	if !bytes.Equal(disc, accountDiscriminator[:]) {
		return cfg, fmt.Errorf("bot config discriminator mismatch: %x", disc)
	}
	owner, err := dec.ReadNBytes(32)
	if err != nil {
		return cfg, err
	}
	executor, err := dec.ReadNBytes(32)
	if err != nil {
		return cfg, err
	}
	cfg.Owner = solana.PublicKeyFromBytes(owner)
	cfg.ExecutorAuthority = solana.PublicKeyFromBytes(executor)

	if cfg.MaxTradeAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return cfg, err
	}
	if cfg.MaxSlippageBps, err = dec.ReadUint16(binary.LittleEndian); err != nil {
		return cfg, err
	}
	active, err := dec.ReadUint8()
	if err != nil {
		return cfg, err
	}
	if active > 1 {
		return cfg, fmt.Errorf("bot config is_active flag invalid: %d", active)
	}
	cfg.IsActive = active == 1
	if cfg.TradesExecuted, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return cfg, err
	}
	if cfg.Bump, err = dec.ReadUint8(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
