package server

import (
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/prices"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Kind    string `json:"kind,omitempty"`    // Error kind, e.g. ValidationError
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

type HealthResponse struct {
	OK        bool   `json:"ok"`
	Endpoint  string `json:"endpoint,omitempty"` // active RPC endpoint
	Wallets   int    `json:"wallets"`
	QueueSize int    `json:"queueSize"`
}

type WalletsResponse struct {
	Items []wallet.WalletInfo `json:"items"`
}

type AddWalletRequest struct {
	Label string `json:"label"`
}

type GenerateWalletsRequest struct {
	Count int `json:"count"`
}

type UpdateWalletRequest struct {
	Label string `json:"label"`
}

// WalletBlob carries an encrypted export, or a plain JSON array on import
type WalletBlob struct {
	Data string `json:"data"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

type SafeSnipeRequest struct {
	Wallet      string `json:"wallet"`
	Mint        string `json:"mint"`
	Amount      uint64 `json:"amount"` // lamports
	Transport   string `json:"transport"`
	TipLamports uint64 `json:"tipLamports"`
	Priority    string `json:"priority"` // low | normal | high
	MaxRetries  int    `json:"maxRetries"`
	TimeoutMs   int64  `json:"timeoutMs"`
}

type MEVBundleRequest struct {
	Mint         string   `json:"mint"`
	DevWallet    string   `json:"devWallet"`
	MEVWallet    string   `json:"mevWallet"`
	CleanWallets []string `json:"cleanWallets"`
	Amount       uint64   `json:"amount"`
	DelayMs      int64    `json:"delayMs"`
	TipLamports  uint64   `json:"tipLamports"`
	Transport    string   `json:"transport"`
}

type StaggerBundleRequest struct {
	Mint        string   `json:"mint"`
	Wallets     []string `json:"wallets"`
	Amount      uint64   `json:"amount"`
	DelayMs     int64    `json:"delayMs"`
	Transport   string   `json:"transport"`
	TipLamports uint64   `json:"tipLamports"`
	Priority    string   `json:"priority"`
}

type SignaturesResponse struct {
	Signatures []string `json:"signatures"`
	TookMs     int64    `json:"took_ms"`
}

type CreateOrderRequest struct {
	Wallet string `json:"wallet"`
	Mint   string `json:"mint"`
	Amount uint64 `json:"amount"`
	Price  string `json:"price"` // decimal string
	Side   string `json:"side"`
	TTLMs  int64  `json:"ttlMs"`
}

type PriceResponse struct {
	Mint    string          `json:"mint"`
	Price   string          `json:"price"`
	History []prices.Sample `json:"history"`
	At      time.Time       `json:"at"`
}
