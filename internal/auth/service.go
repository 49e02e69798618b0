package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/pkg/logger"
)

const defaultMaxClockSkew = 5 * time.Minute

// Service 校验请求签名并解析调用方身份。
type Service struct {
	mode    Mode
	maxSkew time.Duration
	now     func() time.Time
	audit   *slog.Logger
}

// NewService 构造认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeSignature
	}
	if mode != ModeDisabled && mode != ModeSignature {
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	skew := cfg.MaxClockSkew
	if skew <= 0 {
		skew = defaultMaxClockSkew
	}
	return &Service{mode: mode, maxSkew: skew, now: time.Now, audit: logger.Audit()}, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// CanonicalMessage 构造被签名的消息：METHOD\nPATH\nTIMESTAMP\nhex(sha256(body))。
func CanonicalMessage(method, path, timestamp string, body []byte) []byte {
	digest := sha256.Sum256(body)
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(digest[:]))
	return []byte(b.String())
}

// SignRequest 对请求签名并写入认证头。
func SignRequest(req *http.Request, key solana.PrivateKey, body []byte, at time.Time) error {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	sig, err := key.Sign(CanonicalMessage(req.Method, req.URL.Path, timestamp, body))
	if err != nil {
		return fmt.Errorf("签名请求失败: %w", err)
	}
	req.Header.Set(HeaderSigner, key.PublicKey().String())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, sig.String())
	return nil
}

// Verify 校验请求头中的签名并返回签名者。禁用模式下只解析签名者地址。
func (s *Service) Verify(method, path string, header http.Header, body []byte) (solana.PublicKey, error) {
	rawSigner := strings.TrimSpace(header.Get(HeaderSigner))
	if rawSigner == "" {
		return solana.PublicKey{}, ErrMissingSignature
	}
	signer, err := solana.PublicKeyFromBase58(rawSigner)
	if err != nil {
		return solana.PublicKey{}, xerrors.Wrap(CodeUnauthenticated, err, ErrInvalidSigner.Message())
	}
	if s.Mode() == ModeDisabled {
		return signer, nil
	}

	timestamp := strings.TrimSpace(header.Get(HeaderTimestamp))
	rawSig := strings.TrimSpace(header.Get(HeaderSignature))
	if timestamp == "" || rawSig == "" {
		return solana.PublicKey{}, ErrMissingSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return solana.PublicKey{}, ErrInvalidTimestamp
	}
	skew := s.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.maxSkew {
		return solana.PublicKey{}, ErrClockSkew
	}
	sig, err := solana.SignatureFromBase58(rawSig)
	if err != nil {
		return solana.PublicKey{}, ErrBadSignature
	}
	if !sig.Verify(signer, CanonicalMessage(method, path, timestamp, body)) {
		return solana.PublicKey{}, ErrBadSignature
	}
	return signer, nil
}
