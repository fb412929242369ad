package models

import "time"

// ExecutionEvent records one submitted transaction of a strategy
type ExecutionEvent struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Strategy  string    `json:"strategy"` // safe | mev | stagger | order
	Stage     string    `json:"stage"`    // e.g. "bundle", "dump", "clean-1"
	Wallet    string    `json:"wallet"`
	Mint      string    `json:"mint"`
	Side      string    `json:"side"`
	Amount    uint64    `json:"amount"`
	Transport string    `json:"transport"`
}
