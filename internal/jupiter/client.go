// Package jupiter talks to the Jupiter quote API. It resolves pools from a
// quote's route plan and derives prices from quoted amounts.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.jup.ag/swap/v1"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Input amount, in base units, used when quoting for a price or a route
	ProbeAmount uint64
	Logger      *logrus.Logger
}

type Client struct {
	baseURL     string
	apiKey      string
	probeAmount uint64
	http        *http.Client
	logger      *logrus.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.ProbeAmount == 0 {
		cfg.ProbeAmount = 1_000_000
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		probeAmount: cfg.ProbeAmount,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("jupiter http %d", e.StatusCode)
	}
	return fmt.Sprintf("jupiter http %d: %s", e.StatusCode, b)
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	if strings.TrimSpace(req.InputMint) == "" {
		return nil, fmt.Errorf("inputMint is required")
	}
	if strings.TrimSpace(req.OutputMint) == "" {
		return nil, fmt.Errorf("outputMint is required")
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("amount is required")
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	if req.SlippageBps != nil {
		q.Set("slippageBps", strconv.Itoa(int(*req.SlippageBps)))
	}
	if len(req.Dexes) > 0 {
		q.Set("dexes", strings.Join(req.Dexes, ","))
	}
	if req.OnlyDirectRoutes {
		q.Set("onlyDirectRoutes", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode jupiter quote response: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"input":  req.InputMint,
		"output": req.OutputMint,
		"hops":   len(out.RoutePlan),
	}).Debug("jupiter quote")
	return &out, nil
}
