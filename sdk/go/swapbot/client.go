// Package swapbot is a Go client for the SwapBot REST API. Every request is
// signed with the caller's Solana keypair.
package swapbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"SwapBot-Chain/internal/auth"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the SwapBot API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        solana.PrivateKey
	now        func() time.Time
}

// BotConfig mirrors the server's configuration record.
type BotConfig struct {
	Owner             solana.PublicKey `json:"owner"`
	ExecutorAuthority solana.PublicKey `json:"executor_authority"`
	MaxTradeAmount    uint64           `json:"max_trade_amount"`
	MaxSlippageBps    uint16           `json:"max_slippage_bps"`
	IsActive          bool             `json:"is_active"`
	TradesExecuted    uint64           `json:"trades_executed"`
	Bump              uint8            `json:"bump"`
}

// Account is a configuration record at its derived address.
type Account struct {
	Address  solana.PublicKey `json:"address"`
	Lamports uint64           `json:"lamports"`
	Config   BotConfig        `json:"config"`
}

// InitializeParams creates a bot. A nil ExecutorAuthority defaults to the owner.
type InitializeParams struct {
	Owner             *solana.PublicKey `json:"owner,omitempty"`
	ExecutorAuthority *solana.PublicKey `json:"executor_authority,omitempty"`
	MaxTradeAmount    uint64            `json:"max_trade_amount"`
	MaxSlippageBps    uint16            `json:"max_slippage_bps"`
}

// UpdateParams changes only the fields that are set.
type UpdateParams struct {
	MaxTradeAmount *uint64 `json:"max_trade_amount,omitempty"`
	MaxSlippageBps *uint16 `json:"max_slippage_bps,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

// SwapParams describes an authorize or execute request.
type SwapParams struct {
	AmountIn          uint64            `json:"amount_in"`
	MinimumAmountOut  uint64            `json:"minimum_amount_out"`
	ExpectedAmountOut *uint64           `json:"expected_amount_out,omitempty"`
	Pool              string            `json:"pool,omitempty"`
	InputMint         solana.PublicKey  `json:"input_mint"`
	Source            *solana.PublicKey `json:"source,omitempty"`
	Destination       *solana.PublicKey `json:"destination,omitempty"`
}

// Receipt is returned by a successful authorization or execution.
type Receipt struct {
	Owner          solana.PublicKey `json:"owner"`
	Address        solana.PublicKey `json:"address"`
	Signer         solana.PublicKey `json:"signer"`
	AmountIn       uint64           `json:"amount_in"`
	MinimumOut     uint64           `json:"minimum_amount_out"`
	TradesExecuted uint64           `json:"trades_executed"`
	Executed       bool             `json:"executed"`
	Pool           string           `json:"pool,omitempty"`
	Signature      string           `json:"signature,omitempty"`
}

// Reclaim is the storage stake returned when a bot is closed.
type Reclaim struct {
	Recipient solana.PublicKey `json:"recipient"`
	Lamports  uint64           `json:"lamports"`
}

// PreparedTransaction is an unsigned owner transaction returned in chain mode.
type PreparedTransaction struct {
	Instruction string `json:"instruction"`
	Payer       string `json:"payer"`
	Blockhash   string `json:"blockhash"`
	Transaction string `json:"transaction"`
}

// AdminResult holds either a local-mode account or a chain-mode prepared transaction.
type AdminResult struct {
	Account  *Account
	Prepared *PreparedTransaction
}

// JobSubmission queues a swap.
type JobSubmission struct {
	ID    string           `json:"id,omitempty"`
	Owner solana.PublicKey `json:"owner"`
	Mode  string           `json:"mode"`
	Swap  SwapParams       `json:"swap"`
}

// Job is the state of a queued swap.
type Job struct {
	ID          string           `json:"id"`
	Owner       solana.PublicKey `json:"owner"`
	Caller      solana.PublicKey `json:"caller"`
	Mode        string           `json:"mode"`
	Swap        SwapParams       `json:"swap"`
	Status      string           `json:"status"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	LastError   string           `json:"last_error,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	Receipt     *Receipt         `json:"receipt,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	UpdatedAt   int64            `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swapbot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swapbot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client that signs requests with key.
func NewClient(rawURL string, key solana.PrivateKey, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("swapbot: signing key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, key: key, now: time.Now}, nil
}

// Caller returns the public key requests are signed with.
func (c *Client) Caller() solana.PublicKey {
	return c.key.PublicKey()
}

// Initialize creates the caller's bot, or prepares the owner transaction in chain mode.
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (AdminResult, error) {
	return c.admin(ctx, http.MethodPost, "/api/v1/bots", params)
}

// GetBot returns the owner's configuration record.
func (c *Client) GetBot(ctx context.Context, owner solana.PublicKey) (Account, error) {
	var acct Account
	err := c.send(ctx, http.MethodGet, botPath(owner), nil, &acct)
	return acct, err
}

// UpdateConfig changes the owner's limits or pauses the bot.
func (c *Client) UpdateConfig(ctx context.Context, owner solana.PublicKey, params UpdateParams) (AdminResult, error) {
	return c.admin(ctx, http.MethodPatch, botPath(owner), params)
}

// CloseBot removes the owner's bot. In chain mode the result carries a prepared transaction.
func (c *Client) CloseBot(ctx context.Context, owner solana.PublicKey) (Reclaim, *PreparedTransaction, error) {
	raw, err := c.raw(ctx, http.MethodDelete, botPath(owner), nil)
	if err != nil {
		return Reclaim{}, nil, err
	}
	if prepared, ok := decodePrepared(raw); ok {
		return Reclaim{}, prepared, nil
	}
	var reclaim Reclaim
	if err := json.Unmarshal(raw, &reclaim); err != nil {
		return Reclaim{}, nil, fmt.Errorf("decode response: %w", err)
	}
	return reclaim, nil, nil
}

// AuthorizeSwap runs the capability gate without a venue call.
func (c *Client) AuthorizeSwap(ctx context.Context, owner solana.PublicKey, params SwapParams) (Receipt, error) {
	var receipt Receipt
	err := c.send(ctx, http.MethodPost, botPath(owner)+"/authorize", params, &receipt)
	return receipt, err
}

// ExecuteSwap performs a delegated swap synchronously.
func (c *Client) ExecuteSwap(ctx context.Context, owner solana.PublicKey, params SwapParams) (Receipt, error) {
	var receipt Receipt
	err := c.send(ctx, http.MethodPost, botPath(owner)+"/swaps", params, &receipt)
	return receipt, err
}

// SubmitJob queues a swap for asynchronous execution.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var job Job
	err := c.send(ctx, http.MethodPost, "/api/v1/jobs", submission, &job)
	return job, err
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.send(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// ListJobs lists the caller's jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, limit, offset int, statuses ...string) ([]Job, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	endpoint := "/api/v1/jobs"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	err := c.send(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Jobs, err
}

// WaitForJob polls until the job is done or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func botPath(owner solana.PublicKey) string {
	return "/api/v1/bots/" + owner.String()
}

func (c *Client) admin(ctx context.Context, method, endpoint string, payload any) (AdminResult, error) {
	raw, err := c.raw(ctx, method, endpoint, payload)
	if err != nil {
		return AdminResult{}, err
	}
	if prepared, ok := decodePrepared(raw); ok {
		return AdminResult{Prepared: prepared}, nil
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return AdminResult{}, fmt.Errorf("decode response: %w", err)
	}
	return AdminResult{Account: &acct}, nil
}

func decodePrepared(raw []byte) (*PreparedTransaction, bool) {
	var prepared PreparedTransaction
	if err := json.Unmarshal(raw, &prepared); err != nil || prepared.Transaction == "" {
		return nil, false
	}
	return &prepared, true
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any) error {
	raw, err := c.raw(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}

	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := auth.SignRequest(req, c.key, body, c.now()); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return nil, apiErr
	}
	return data, nil
}
