package server

import (
	"net/http"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/bundle"
	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/labstack/echo/v4"
)

func (h *Handlers) bundleTimeout() time.Duration {
	if h.BundleTimeout > 0 {
		return h.BundleTimeout
	}
	return 2 * time.Minute
}

func parsePriority(s string) (queue.PriorityClass, error) {
	p, ok := queue.ParsePriority(s)
	if !ok {
		return 0, errs.New(errs.Validation, "server", "priority must be low, normal or high")
	}
	return p, nil
}

func (h *Handlers) BundleSafe(c echo.Context) error {
	var req SafeSnipeRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	wallet, err := parseKey("wallet", req.Wallet)
	if err != nil {
		return h.fail(c, err)
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return h.fail(c, err)
	}
	prio, err := parsePriority(req.Priority)
	if err != nil {
		return h.fail(c, err)
	}
	if req.TimeoutMs < 0 {
		return h.err(c, http.StatusBadRequest, "invalid timeoutMs", map[string]any{"timeoutMs": "must not be negative"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), h.bundleTimeout())
	defer cancel()

	start := time.Now()
	sig, err := h.Bundles.SafeSnipe(ctx, wallet, mint, req.Amount, bundle.SnipeConfig{
		Transport:   req.Transport,
		TipLamports: req.TipLamports,
		Priority:    prio,
		MaxRetries:  req.MaxRetries,
		Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, SignaturesResponse{
		Signatures: []string{sig.String()},
		TookMs:     time.Since(start).Milliseconds(),
	})
}

func (h *Handlers) BundleMEV(c echo.Context) error {
	var req MEVBundleRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	// wallet-count precondition is reported before anything else
	if len(req.CleanWallets) < bundle.MinCleanWallets {
		return h.fail(c, errs.New(errs.InsufficientWallets, "server",
			"need at least %d clean wallets, got %d", bundle.MinCleanWallets, len(req.CleanWallets)))
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return h.fail(c, err)
	}
	dev, err := parseKey("devWallet", req.DevWallet)
	if err != nil {
		return h.fail(c, err)
	}
	mev, err := parseKey("mevWallet", req.MEVWallet)
	if err != nil {
		return h.fail(c, err)
	}
	clean, err := parseKeys("cleanWallets", req.CleanWallets)
	if err != nil {
		return h.fail(c, err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), h.bundleTimeout())
	defer cancel()

	start := time.Now()
	sigs, err := h.Bundles.MEVBundleSnipe(ctx, mint, bundle.BundleConfig{
		DevWallet:    dev,
		MEVWallet:    mev,
		CleanWallets: clean,
		Amount:       req.Amount,
		Delay:        time.Duration(req.DelayMs) * time.Millisecond,
		TipLamports:  req.TipLamports,
		Transport:    req.Transport,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, SignaturesResponse{
		Signatures: signatureStrings(sigs),
		TookMs:     time.Since(start).Milliseconds(),
	})
}

// BundleStagger reports partial signatures alongside the error when a
// later wallet fails
func (h *Handlers) BundleStagger(c echo.Context) error {
	var req StaggerBundleRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		return h.fail(c, err)
	}
	wallets, err := parseKeys("wallets", req.Wallets)
	if err != nil {
		return h.fail(c, err)
	}
	prio, err := parsePriority(req.Priority)
	if err != nil {
		return h.fail(c, err)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), h.bundleTimeout())
	defer cancel()

	start := time.Now()
	sigs, err := h.Bundles.StaggerBundleSnipe(ctx, mint, bundle.SnipeConfig{
		Transport:   req.Transport,
		TipLamports: req.TipLamports,
		Priority:    prio,
	}, wallets, req.Amount, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		code := statusFor(err)
		return c.JSON(code, ErrorResponse{
			Error:   err.Error(),
			Kind:    errs.KindOf(err).String(),
			Code:    code,
			Details: map[string]any{"submitted": signatureStrings(sigs)},
		})
	}
	return c.JSON(http.StatusOK, SignaturesResponse{
		Signatures: signatureStrings(sigs),
		TookMs:     time.Since(start).Milliseconds(),
	})
}

