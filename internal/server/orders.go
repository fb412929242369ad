package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

func (h *Handlers) OrdersCreate(c echo.Context) error {
	var req CreateOrderRequest
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
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return h.err(c, http.StatusBadRequest, "invalid price", map[string]any{"price": "must be a decimal string"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, orders.OrderRequest{
		Wallet: wallet,
		Mint:   mint,
		Amount: req.Amount,
		Price:  price,
		Side:   trade.Side(strings.ToLower(strings.TrimSpace(req.Side))),
		TTL:    time.Duration(req.TTLMs) * time.Millisecond,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handlers) OrdersList(c echo.Context) error {
	items := h.Orders.ListOrders()
	if status := c.QueryParam("status"); status != "" {
		filtered := items[:0]
		for _, o := range items {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		items = filtered
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) OrdersGet(c echo.Context) error {
	o, ok := h.Orders.GetOrder(c.Param("id"))
	if !ok {
		return h.err(c, http.StatusNotFound, "order not found", nil)
	}
	return c.JSON(http.StatusOK, o)
}

// OrdersCancel cancels a pending order and returns it
func (h *Handlers) OrdersCancel(c echo.Context) error {
	if _, ok := h.Orders.GetOrder(c.Param("id")); !ok {
		return h.err(c, http.StatusNotFound, "order not found", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CancelOrder(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}
