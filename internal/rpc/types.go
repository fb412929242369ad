package rpc

// RPCError represents a JSON-RPC error response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// SendOptions configures transaction sending behavior
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *int
}

func (o SendOptions) preflight() string {
	if o.PreflightCommitment == "" {
		return "processed"
	}
	return o.PreflightCommitment
}

// SlotResponse is the response from getSlot
type SlotResponse struct {
	Result uint64    `json:"result"`
	Error  *RPCError `json:"error"`
}

// BalanceResponse is the response from getBalance
type BalanceResponse struct {
	Result struct {
		Value uint64 `json:"value"` // lamports
	} `json:"result"`
	Error *RPCError `json:"error"`
}

// BlockhashResponse is the response from getLatestBlockhash
type BlockhashResponse struct {
	Result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	} `json:"result"`
	Error *RPCError `json:"error"`
}

// SendResponse is the response from sendTransaction and requestAirdrop
type SendResponse struct {
	Result string    `json:"result"`
	Error  *RPCError `json:"error"`
}

// SignatureStatus is one entry of getSignatureStatuses
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *int        `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// Settled reports whether the status reached confirmed or finalized
func (s *SignatureStatus) Settled() bool {
	return s != nil && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}

// SignatureStatusesResponse is the response from getSignatureStatuses
type SignatureStatusesResponse struct {
	Result struct {
		Value []*SignatureStatus `json:"value"`
	} `json:"result"`
	Error *RPCError `json:"error"`
}

// PerformanceSample represents one entry of getRecentPerformanceSamples
type PerformanceSample struct {
	Slot             uint64 `json:"slot"`
	NumTransactions  uint64 `json:"numTransactions"`
	NumSlots         uint64 `json:"numSlots"`
	SamplePeriodSecs uint64 `json:"samplePeriodSecs"`
}

// TPS returns transactions per second over the sample window
func (p PerformanceSample) TPS() float64 {
	if p.SamplePeriodSecs == 0 {
		return 0
	}
	return float64(p.NumTransactions) / float64(p.SamplePeriodSecs)
}

// PerformanceSamplesResponse is the response from getRecentPerformanceSamples
type PerformanceSamplesResponse struct {
	Result []PerformanceSample `json:"result"`
	Error  *RPCError           `json:"error"`
}
