package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/bundle"
	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/prices"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// WalletService is the wallet store surface the API exposes
type WalletService interface {
	Wallets() []wallet.WalletInfo
	Get(pub solana.PublicKey) (wallet.WalletInfo, bool)
	Len() int
	AddWallet(ctx context.Context, label string) (wallet.WalletInfo, error)
	GenerateWallets(ctx context.Context, n int) ([]wallet.WalletInfo, error)
	RemoveWallet(pub solana.PublicKey) error
	UpdateWalletLabel(pub solana.PublicKey, label string) error
	ExportWallets() (string, error)
	ImportWallets(blob string) (int, error)
}

type BundleService interface {
	SafeSnipe(ctx context.Context, wallet, mint solana.PublicKey, amount uint64, cfg bundle.SnipeConfig) (solana.Signature, error)
	MEVBundleSnipe(ctx context.Context, mint solana.PublicKey, cfg bundle.BundleConfig) ([]solana.Signature, error)
	StaggerBundleSnipe(ctx context.Context, mint solana.PublicKey, cfg bundle.SnipeConfig, wallets []solana.PublicKey, amount uint64, delay time.Duration) ([]solana.Signature, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, req orders.OrderRequest) (*orders.LimitOrder, error)
	CancelOrder(ctx context.Context, id string) (*orders.LimitOrder, error)
	GetOrder(id string) (*orders.LimitOrder, bool)
	ListOrders() []*orders.LimitOrder
}

type QueueService interface {
	Stats() queue.Stats
	Len() int
}

type ExecutionLog interface {
	Recent(ctx context.Context, limit int64) ([]*models.ExecutionEvent, error)
}

type PriceService interface {
	Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
	History(mint solana.PublicKey) []prices.Sample
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Wallets    WalletService
	Bundles    BundleService
	Orders     OrderService
	Queue      QueueService
	Executions ExecutionLog
	Prices     PriceService
	Metrics    http.Handler
	// Reports the active RPC endpoint for health output
	Endpoint func() string
	DevMode  bool           // Enable detailed error responses in development
	Logger   *logrus.Logger // Structured logger
	// Upper bound on a bundle request, including queued confirmations
	BundleTimeout time.Duration
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// fail reports a domain error with the status its kind maps to
func (h *Handlers) fail(c echo.Context, err error) error {
	code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: errs.KindOf(err).String(), Code: code}
	if code == http.StatusInternalServerError {
		h.logger().WithError(err).WithField("path", c.Path()).Error("request failed")
		if !h.DevMode {
			resp.Error = "internal server error"
		}
	}
	return c.JSON(code, resp)
}

func (h *Handlers) logger() *logrus.Logger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func parseKey(field, s string) (solana.PublicKey, error) {
	pub, err := solana.PublicKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return solana.PublicKey{}, errs.New(errs.Validation, "server", "invalid %s", field)
	}
	return pub, nil
}

func parseKeys(field string, in []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(in))
	for _, s := range in {
		pub, err := parseKey(field, s)
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

func signatureStrings(sigs []solana.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.String()
	}
	return out
}

// Health reports liveness plus a few cheap counters
func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{OK: true}
	if h.Endpoint != nil {
		resp.Endpoint = h.Endpoint()
	}
	if h.Wallets != nil {
		resp.Wallets = h.Wallets.Len()
	}
	if h.Queue != nil {
		resp.QueueSize = h.Queue.Len()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) WalletsList(c echo.Context) error {
	return c.JSON(http.StatusOK, WalletsResponse{Items: h.Wallets.Wallets()})
}

func (h *Handlers) WalletsAdd(c echo.Context) error {
	var req AddWalletRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	w, err := h.Wallets.AddWallet(ctx, req.Label)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handlers) WalletsGenerate(c echo.Context) error {
	var req GenerateWalletsRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	items, err := h.Wallets.GenerateWallets(ctx, req.Count)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, WalletsResponse{Items: items})
}

func (h *Handlers) WalletsGet(c echo.Context) error {
	pub, err := parseKey("public key", c.Param("pubkey"))
	if err != nil {
		return h.fail(c, err)
	}
	w, ok := h.Wallets.Get(pub)
	if !ok {
		return h.err(c, http.StatusNotFound, "wallet not found", nil)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handlers) WalletsUpdate(c echo.Context) error {
	pub, err := parseKey("public key", c.Param("pubkey"))
	if err != nil {
		return h.fail(c, err)
	}
	var req UpdateWalletRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if err := h.Wallets.UpdateWalletLabel(pub, req.Label); err != nil {
		return h.fail(c, err)
	}
	w, _ := h.Wallets.Get(pub)
	return c.JSON(http.StatusOK, w)
}

// WalletsDelete returns 204 No Content on successful deletion
func (h *Handlers) WalletsDelete(c echo.Context) error {
	pub, err := parseKey("public key", c.Param("pubkey"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.Wallets.RemoveWallet(pub); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) WalletsExport(c echo.Context) error {
	blob, err := h.Wallets.ExportWallets()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, WalletBlob{Data: blob})
}

func (h *Handlers) WalletsImport(c echo.Context) error {
	var req WalletBlob
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if strings.TrimSpace(req.Data) == "" {
		return h.err(c, http.StatusBadRequest, "data is required", map[string]any{"data": "required"})
	}
	n, err := h.Wallets.ImportWallets(req.Data)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, ImportResponse{Imported: n})
}

func (h *Handlers) QueueStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Queue.Stats())
}

// RecentExecutions accepts limit query parameter (default: 100, range: 1-1000)
func (h *Handlers) RecentExecutions(c echo.Context) error {
	limit := 100
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > 1000 {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 1000"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Executions.Recent(ctx, int64(limit))
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to get executions", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) Price(c echo.Context) error {
	mint, err := parseKey("mint", c.Param("mint"))
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Prices.Price(ctx, mint)
	if err != nil {
		return h.err(c, http.StatusBadGateway, "price lookup failed", map[string]any{"err": err.Error()})
	}
	return c.JSON(http.StatusOK, PriceResponse{
		Mint:    mint.String(),
		Price:   p.String(),
		History: h.Prices.History(mint),
		At:      time.Now().UTC(),
	})
}
