package jupiter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k", ProbeAmount: 1000, Logger: l})
}

func TestResolvePool(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	amm := solana.NewWallet().PublicKey()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, "true", r.URL.Query().Get("onlyDirectRoutes"))
		assert.Equal(t, trade.NativeMint.String(), r.URL.Query().Get("inputMint"))
		_ = json.NewEncoder(w).Encode(QuoteResponse{
			InAmount:  "1000",
			OutAmount: "5",
			RoutePlan: []RoutePlanStep{{SwapInfo: SwapInfo{AmmKey: amm.String(), Label: "Raydium"}}},
		})
	})

	p, err := c.ResolvePool(context.Background(), mint, trade.NativeMint)
	require.NoError(t, err)
	assert.Equal(t, amm, p.ID)
	assert.Equal(t, mint, p.BaseMint)
	assert.Equal(t, "jupiter:Raydium", p.Source)
}

func TestResolvePool_NoRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QuoteResponse{InAmount: "1000", OutAmount: "0"})
	})
	_, err := c.ResolvePool(context.Background(), solana.NewWallet().PublicKey(), trade.NativeMint)
	assert.Error(t, err)
}

func TestPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QuoteResponse{InAmount: "1000", OutAmount: "2500"})
	})
	p, err := c.Price(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("2.5")), p.String())
}

func TestQuote_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	_, err := c.Price(context.Background(), solana.NewWallet().PublicKey())
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusTooManyRequests, herr.StatusCode)
}
