package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/labstack/echo/v4"
)

// NotFoundJSON returns a custom HTTP error handler that returns JSON responses
// This ensures all errors (including 404s) have consistent JSON format
func NotFoundJSON() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		// Don't send response if already committed
		if c.Response().Committed {
			return
		}

		// Handle Echo HTTP errors (like 404, 400, etc.)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, ErrorResponse{
				Error: http.StatusText(he.Code),
				Code:  he.Code,
			})
			return
		}

		// Handle all other errors as internal server error
		_ = c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  http.StatusInternalServerError,
		})
	}
}

// statusFor maps an error kind to the HTTP status reported for it
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) && errs.KindOf(err) == errs.Internal {
		return http.StatusGatewayTimeout
	}
	switch errs.KindOf(err) {
	case errs.Validation, errs.Encryption:
		return http.StatusBadRequest
	case errs.InsufficientWallets:
		return http.StatusUnprocessableEntity
	case errs.MEVRiskDetected:
		return http.StatusConflict
	case errs.Connection:
		return http.StatusServiceUnavailable
	case errs.TransactionFailed:
		return http.StatusBadGateway
	case errs.TransactionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
