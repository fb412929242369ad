package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

// Bloxroute submits through the bloXroute Trader API
type Bloxroute struct {
	url    string
	auth   string
	http   *http.Client
	logger *logrus.Logger
}

type bloxrouteRequest struct {
	Transaction struct {
		Content string `json:"content"`
	} `json:"transaction"`
	SkipPreFlight          bool `json:"skipPreFlight"`
	FrontRunningProtection bool `json:"frontRunningProtection"`
}

type bloxrouteResponse struct {
	Signature string `json:"signature"`
	Code      int    `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewBloxroute targets e.g. https://ny.solana.dex.blxrbdn.com/api/v2/submit
func NewBloxroute(url, auth string, timeout time.Duration, logger *logrus.Logger) *Bloxroute {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bloxroute{
		url:    strings.TrimRight(url, "/"),
		auth:   auth,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (b *Bloxroute) Name() string { return NameBloxroute }

func (b *Bloxroute) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("marshal transaction: %w", err)
	}

	var req bloxrouteRequest
	req.Transaction.Content = base64.StdEncoding.EncodeToString(raw)
	req.SkipPreFlight = true
	req.FrontRunningProtection = true
	body, err := json.Marshal(req)
	if err != nil {
		return solana.Signature{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return solana.Signature{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.auth != "" {
		httpReq.Header.Set("Authorization", b.auth)
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("bloxroute send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return solana.Signature{}, fmt.Errorf("bloxroute http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out bloxrouteResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return solana.Signature{}, fmt.Errorf("decode bloxroute response: %w", err)
	}
	if out.Signature == "" {
		return solana.Signature{}, fmt.Errorf("bloxroute error %d: %s", out.Code, out.Message)
	}

	sig, err := solana.SignatureFromBase58(out.Signature)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid bloxroute signature: %w", err)
	}
	b.logger.WithField("signature", out.Signature).Debug("submitted via bloxroute")
	return sig, nil
}
