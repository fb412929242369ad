package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Client is an HTTP client with retry and timeout support for Solana RPC
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
	logger       *logrus.Logger
}

// ClientConfig holds configuration for the RPC client
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *logrus.Logger
}

// NewClient creates a new RPC client with retry support
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:      cfg.BaseURL,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
	}
}

// Endpoint returns the URL this client talks to
func (c *Client) Endpoint() string { return c.baseURL }

// Call makes a JSON-RPC call with retry logic
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	data, err := encodeRequest(method, params)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt":  attempt,
				"backoff":  backoff,
				"method":   method,
				"endpoint": c.baseURL,
			}).Debug("retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2 // exponential backoff
		}

		resp, err := c.doRequest(ctx, data)
		if err != nil {
			lastErr = err
			continue
		}

		if err := json.Unmarshal(resp, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CallOnce makes a single JSON-RPC call without retries
func (c *Client) CallOnce(ctx context.Context, method string, params interface{}, result interface{}) error {
	data, err := encodeRequest(method, params)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func encodeRequest(method string, params interface{}) ([]byte, error) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

func (c *Client) doRequest(ctx context.Context, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// Probe issues a single getSlot call. It is the liveness check used for failover.
func (c *Client) Probe(ctx context.Context) (uint64, error) {
	var resp SlotResponse
	if err := c.CallOnce(ctx, "getSlot", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	return resp.Result, nil
}

// GetSlot fetches the current slot
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var resp SlotResponse
	if err := c.Call(ctx, "getSlot", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, resp.Error
	}
	return resp.Result, nil
}

// GetBalance returns the lamport balance of an account
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey, commitment string) (uint64, error) {
	if commitment == "" {
		commitment = "confirmed"
	}
	params := []any{account.String(), map[string]any{"commitment": commitment}}

	var resp BalanceResponse
	if err := c.Call(ctx, "getBalance", params, &resp); err != nil {
		return 0, fmt.Errorf("getBalance RPC failed: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("getBalance error: %w", resp.Error)
	}
	return resp.Result.Value, nil
}

// GetLatestBlockhash fetches the most recent blockhash with commitment level
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment string) (solana.Hash, error) {
	if commitment == "" {
		commitment = "processed"
	}
	params := []any{map[string]any{"commitment": commitment}}

	var resp BlockhashResponse
	if err := c.Call(ctx, "getLatestBlockhash", params, &resp); err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash failed: %w", err)
	}
	if resp.Error != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash error: %w", resp.Error)
	}

	hash, err := solana.HashFromBase58(resp.Result.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("invalid blockhash format: %w", err)
	}
	return hash, nil
}

// SendTransaction submits a signed transaction once. Retrying is the caller's job.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return c.SendRawTransaction(ctx, txBytes, opts)
}

// SendRawTransaction submits an already serialized, signed transaction
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte, opts SendOptions) (solana.Signature, error) {
	cfg := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": opts.preflight(),
	}
	if opts.MaxRetries != nil {
		cfg["maxRetries"] = *opts.MaxRetries
	}
	params := []any{base64.StdEncoding.EncodeToString(raw), cfg}

	var resp SendResponse
	if err := c.CallOnce(ctx, "sendTransaction", params, &resp); err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction RPC failed: %w", err)
	}
	if resp.Error != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction error: code=%d, message=%s",
			resp.Error.Code, resp.Error.Message)
	}

	sig, err := solana.SignatureFromBase58(resp.Result)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid signature in response: %w", err)
	}
	return sig, nil
}

// GetSignatureStatus returns the status of one signature, or nil when the
// cluster has not seen it yet
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	params := []any{
		[]string{sig.String()},
		map[string]any{"searchTransactionHistory": true},
	}

	var resp SignatureStatusesResponse
	if err := c.Call(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getSignatureStatuses error: %w", resp.Error)
	}
	if len(resp.Result.Value) == 0 {
		return nil, nil
	}
	return resp.Result.Value[0], nil
}

// GetRecentPerformanceSamples fetches up to limit recent performance samples, newest first
func (c *Client) GetRecentPerformanceSamples(ctx context.Context, limit int) ([]PerformanceSample, error) {
	var resp PerformanceSamplesResponse
	if err := c.Call(ctx, "getRecentPerformanceSamples", []any{limit}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getRecentPerformanceSamples error: %w", resp.Error)
	}
	return resp.Result, nil
}

// RequestAirdrop asks a test cluster faucet for lamports
func (c *Client) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	params := []any{account.String(), lamports}

	var resp SendResponse
	if err := c.Call(ctx, "requestAirdrop", params, &resp); err != nil {
		return solana.Signature{}, fmt.Errorf("requestAirdrop RPC failed: %w", err)
	}
	if resp.Error != nil {
		return solana.Signature{}, fmt.Errorf("requestAirdrop error: %w", resp.Error)
	}
	return solana.SignatureFromBase58(resp.Result)
}
