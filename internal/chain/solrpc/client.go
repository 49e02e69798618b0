// Package solrpc is a Solana JSON-RPC client built on the go-ethereum rpc
// transport. It covers the handful of methods the relay needs: account
// reads, blockhash, balance, transaction submission and status polling.
package solrpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"
)

// maxAccountsPerRequest mirrors the node limit for getMultipleAccounts.
const maxAccountsPerRequest = 100

// Config describes how to reach a Solana node.
type Config struct {
	RPCURL      string
	BatchRPCURL string
	Commitment  string
}

// AccountInfo is the decoded value of getAccountInfo.
type AccountInfo struct {
	Lamports   uint64
	Owner      solana.PublicKey
	Executable bool
	Data       []byte
	Slot       uint64
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64  `json:"slot"`
	Confirmations      *uint64 `json:"confirmations"`
	Err                any     `json:"err"`
	ConfirmationStatus string  `json:"confirmationStatus"`
}

// Client talks to a Solana node.
type Client struct {
	rpc        *gethrpc.Client
	batch      *gethrpc.Client
	commitment string
	mu         sync.Mutex
}

// Dial connects to the configured endpoints.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 Solana RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 Solana 节点失败: %w", err)
	}
	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("连接批量 RPC 节点失败: %w", err)
		}
	}
	commitment := strings.TrimSpace(cfg.Commitment)
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{rpc: rpcClient, batch: batchClient, commitment: commitment}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batch != nil && c.batch != c.rpc {
		c.batch.Close()
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	c.rpc = nil
	c.batch = nil
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type rpcAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Executable bool     `json:"executable"`
	Data       []string `json:"data"`
}

type accountInfoResult struct {
	Context rpcContext  `json:"context"`
	Value   *rpcAccount `json:"value"`
}

type multipleAccountsResult struct {
	Context rpcContext    `json:"context"`
	Value   []*rpcAccount `json:"value"`
}

func (c *Client) accountOpts() map[string]any {
	return map[string]any{"encoding": "base64", "commitment": c.commitment}
}

func (c *Client) client() (*gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil, errors.New("Solana RPC 客户端已关闭")
	}
	return c.rpc, nil
}

// GetAccountInfo returns nil without error when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, key solana.PublicKey) (*AccountInfo, error) {
	rpcClient, err := c.client()
	if err != nil {
		return nil, err
	}
	var out accountInfoResult
	if err := rpcClient.CallContext(ctx, &out, "getAccountInfo", key.String(), c.accountOpts()); err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", key, err)
	}
	if out.Value == nil {
		return nil, nil
	}
	return decodeAccount(out.Value, out.Context.Slot)
}

// GetMultipleAccounts fetches keys in chunks sent as a single batch. Missing
// accounts are returned as nil entries.
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]*AccountInfo, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	batch := c.batch
	c.mu.Unlock()
	if batch == nil {
		return nil, errors.New("Solana RPC 客户端已关闭")
	}

	var (
		elems   []gethrpc.BatchElem
		results []*multipleAccountsResult
	)
	for start := 0; start < len(keys); start += maxAccountsPerRequest {
		end := start + maxAccountsPerRequest
		if end > len(keys) {
			end = len(keys)
		}
		chunk := make([]string, 0, end-start)
		for _, key := range keys[start:end] {
			chunk = append(chunk, key.String())
		}
		result := &multipleAccountsResult{}
		results = append(results, result)
		elems = append(elems, gethrpc.BatchElem{
			Method: "getMultipleAccounts",
			Args:   []any{chunk, c.accountOpts()},
			Result: result,
		})
	}

	if err := batch.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量查询账户失败: %w", err)
	}
	out := make([]*AccountInfo, 0, len(keys))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("批量查询第 %d 组失败: %w", i, elem.Error)
		}
		for _, value := range results[i].Value {
			if value == nil {
				out = append(out, nil)
				continue
			}
			info, err := decodeAccount(value, results[i].Context.Slot)
			if err != nil {
				return nil, err
			}
			out = append(out, info)
		}
	}
	if len(out) != len(keys) {
		return nil, fmt.Errorf("节点返回 %d 个账户，期望 %d 个", len(out), len(keys))
	}
	return out, nil
}

// GetLatestBlockhash returns the most recent blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	rpcClient, err := c.client()
	if err != nil {
		return solana.Hash{}, err
	}
	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := rpcClient.CallContext(ctx, &out, "getLatestBlockhash", map[string]any{"commitment": c.commitment}); err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	hash, err := solana.HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("解析 blockhash 失败: %w", err)
	}
	return hash, nil
}

// GetBalance returns the lamport balance of key.
func (c *Client) GetBalance(ctx context.Context, key solana.PublicKey) (uint64, error) {
	rpcClient, err := c.client()
	if err != nil {
		return 0, err
	}
	var out struct {
		Value uint64 `json:"value"`
	}
	if err := rpcClient.CallContext(ctx, &out, "getBalance", key.String(), map[string]any{"commitment": c.commitment}); err != nil {
		return 0, fmt.Errorf("getBalance %s: %w", key, err)
	}
	return out.Value, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	rpcClient, err := c.client()
	if err != nil {
		return solana.Signature{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("序列化交易失败: %w", err)
	}
	opts := map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	}
	var sig string
	if err := rpcClient.CallContext(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(raw), opts); err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	out, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("解析交易签名失败: %w", err)
	}
	return out, nil
}

// GetSignatureStatus returns nil when the node has not seen the signature.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	rpcClient, err := c.client()
	if err != nil {
		return nil, err
	}
	var out struct {
		Value []*SignatureStatus `json:"value"`
	}
	args := []string{sig.String()}
	if err := rpcClient.CallContext(ctx, &out, "getSignatureStatuses", args, map[string]any{"searchTransactionHistory": true}); err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// WaitForConfirmation polls until the transaction reaches the client's
// commitment, fails on chain, or ctx ends.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, interval time.Duration) (*SignatureStatus, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.GetSignatureStatus(ctx, sig)
		if err != nil {
			return nil, err
		}
		if status != nil {
			if status.Err != nil {
				return status, &TransactionError{Signature: sig, Detail: status.Err}
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				return status, nil
			}
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TransactionError reports a transaction that landed but failed.
type TransactionError struct {
	Signature solana.Signature
	Detail    any
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Detail)
}

var commitmentRank = map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}

func reached(status, want string) bool {
	return commitmentRank[status] >= commitmentRank[want] && commitmentRank[status] > 0
}

func decodeAccount(value *rpcAccount, slot uint64) (*AccountInfo, error) {
	owner, err := solana.PublicKeyFromBase58(value.Owner)
	if err != nil {
		return nil, fmt.Errorf("解析账户 owner 失败: %w", err)
	}
	info := &AccountInfo{Lamports: value.Lamports, Owner: owner, Executable: value.Executable, Slot: slot}
	if len(value.Data) > 0 {
		if len(value.Data) > 1 && value.Data[1] != "base64" {
			return nil, fmt.Errorf("不支持的账户编码: %s", value.Data[1])
		}
		info.Data, err = base64.StdEncoding.DecodeString(value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("解码账户数据失败: %w", err)
		}
	}
	return info, nil
}
