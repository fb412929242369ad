package jupiter

import (
	"context"
	"fmt"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ResolvePool quotes quote→base over a direct route and reports the AMM it
// would trade through.
func (c *Client) ResolvePool(ctx context.Context, base, quote solana.PublicKey) (trade.Pool, error) {
	resp, err := c.Quote(ctx, QuoteRequest{
		InputMint:        quote.String(),
		OutputMint:       base.String(),
		Amount:           c.probeAmount,
		OnlyDirectRoutes: true,
	})
	if err != nil {
		return trade.Pool{}, fmt.Errorf("jupiter route for %s: %w", base, err)
	}
	if len(resp.RoutePlan) == 0 {
		return trade.Pool{}, fmt.Errorf("jupiter returned no route for %s", base)
	}

	step := resp.RoutePlan[0].SwapInfo
	id, err := solana.PublicKeyFromBase58(step.AmmKey)
	if err != nil {
		return trade.Pool{}, fmt.Errorf("invalid ammKey %q: %w", step.AmmKey, err)
	}
	source := "jupiter"
	if step.Label != "" {
		source = "jupiter:" + step.Label
	}
	return trade.Pool{ID: id, BaseMint: base, QuoteMint: quote, Source: source}, nil
}

// Price quotes ProbeAmount of mint into SOL and returns lamports per base unit
func (c *Client) Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	resp, err := c.Quote(ctx, QuoteRequest{
		InputMint:  mint.String(),
		OutputMint: trade.NativeMint.String(),
		Amount:     c.probeAmount,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter price for %s: %w", mint, err)
	}

	in, err := decimal.NewFromString(resp.InAmount)
	if err != nil || !in.IsPositive() {
		return decimal.Zero, fmt.Errorf("jupiter quote has invalid inAmount %q", resp.InAmount)
	}
	out, err := decimal.NewFromString(resp.OutAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jupiter quote has invalid outAmount %q", resp.OutAmount)
	}
	return out.Div(in), nil
}
