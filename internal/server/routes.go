package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	// Set custom error handler for consistent JSON responses
	e.HTTPErrorHandler = NotFoundJSON()

	// Apply global middleware
	e.Use(SetJSONContentType) // Ensure all responses are JSON
	e.Use(SetNoCacheHeaders)  // Prevent caching of API responses

	// Optional API key authentication; health and metrics stay open for probes
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return p == "/v1/health" || p == "/metrics"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics))
	}

	// API v1 routes
	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/queue", h.QueueStats)
	v1.GET("/executions/recent", h.RecentExecutions)
	v1.GET("/prices/:mint", h.Price)

	walletGroup := v1.Group("/wallets")
	walletGroup.GET("", h.WalletsList)
	walletGroup.POST("", h.WalletsAdd)
	walletGroup.POST("/generate", h.WalletsGenerate)
	walletGroup.GET("/export", h.WalletsExport)
	walletGroup.POST("/import", h.WalletsImport)
	walletGroup.GET("/:pubkey", h.WalletsGet)
	walletGroup.PATCH("/:pubkey", h.WalletsUpdate)
	walletGroup.DELETE("/:pubkey", h.WalletsDelete)

	orderGroup := v1.Group("/orders")
	orderGroup.GET("", h.OrdersList)
	orderGroup.POST("", h.OrdersCreate)
	orderGroup.GET("/:id", h.OrdersGet)
	orderGroup.DELETE("/:id", h.OrdersCancel)

	// Bundle endpoints with rate limiting
	limit := cfg.BundleRate
	if limit <= 0 {
		limit = 1
	}
	burst := cfg.BundleBurst
	if burst <= 0 {
		burst = 3
	}
	bundleGroup := v1.Group("/bundles")
	bundleGroup.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(limit),
		Burst:     burst,
		ExpiresIn: 2 * time.Minute,
	})))
	bundleGroup.POST("/safe", h.BundleSafe)
	bundleGroup.POST("/mev", h.BundleMEV)
	bundleGroup.POST("/stagger", h.BundleStagger)

	// Catch-all route for 404 responses
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
