package trade

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TransferBuilder stands in for a DEX program. Each leg becomes a memo naming
// the trade plus a transfer of Amount lamports from the wallet to itself, so
// the transaction lands and costs only fees. Used against test clusters.
type TransferBuilder struct {
	// Micro-lamports per compute unit, zero omits the instruction
	PriorityFee uint64
}

func (b TransferBuilder) BuildSwap(_ context.Context, pool Pool, leg Leg) ([]solana.Instruction, error) {
	if !leg.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", leg.Side)
	}
	if leg.Amount == 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}
	if leg.Wallet.IsZero() {
		return nil, fmt.Errorf("wallet is zero")
	}

	var ixs []solana.Instruction
	if b.PriorityFee > 0 {
		ixs = append(ixs, NewComputeUnitPriceIx(b.PriorityFee))
	}
	ixs = append(ixs,
		NewMemoIx(leg.Wallet, fmt.Sprintf("%s %s pool=%s amount=%d", leg.Side, pool.BaseMint, pool.ID, leg.Amount)),
		NewSystemTransferIx(leg.Wallet, leg.Wallet, leg.Amount),
	)
	return ixs, nil
}
