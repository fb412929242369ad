package jupiter

type QuoteRequest struct {
	InputMint  string
	OutputMint string
	Amount     uint64

	SlippageBps      *uint16
	Dexes            []string
	OnlyDirectRoutes bool
}

type QuoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	SwapMode       string          `json:"swapMode"`
	SlippageBps    uint16          `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []RoutePlanStep `json:"routePlan"`
	ContextSlot    uint64          `json:"contextSlot,omitempty"`
}

type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  *uint8   `json:"percent,omitempty"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}
