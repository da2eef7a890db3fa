package server

import (
	"errors"
	"net/http"

	dunningdomain "github.com/fakturo/fakturo/internal/dunning/domain"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	"github.com/fakturo/fakturo/internal/project/rollup"
	reversaldomain "github.com/fakturo/fakturo/internal/reversal/domain"
	"github.com/fakturo/fakturo/pkg/db/pagination"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ErrInvalidRequest covers malformed request bodies and query strings.
var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

var validationErrors = []error{
	ErrInvalidRequest,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrInvalidType,
	invoicedomain.ErrInvalidCustomer,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidDueDate,
	paymentdomain.ErrInvalidPayment,
	paymentdomain.ErrInvalidMethod,
	reversaldomain.ErrInvalidCreditAmount,
	rollup.ErrInvalidProjectID,
	pagination.ErrInvalidPageToken,
}

// Invalid state transitions: the request is well formed, the invoice's
// current state rejects it.
var conflictErrors = []error{
	invoicedomain.ErrReversalViaCreate,
	paymentdomain.ErrInvoiceAlreadyPaid,
	paymentdomain.ErrReversalDocument,
	paymentdomain.ErrInvoiceCancelled,
	paymentdomain.ErrOverpayment,
	reversaldomain.ErrAlreadyReversed,
	reversaldomain.ErrNotReversible,
}

var notFoundErrors = []error{
	invoicedomain.ErrInvoiceNotFound,
	dunningdomain.ErrStateNotFound,
	gorm.ErrRecordNotFound,
}

func mapError(err error) (int, errorPayload) {
	for _, sentinel := range validationErrors {
		if errors.Is(err, sentinel) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Code:    sentinel.Error(),
				Message: "validation error",
			}
		}
	}
	for _, sentinel := range notFoundErrors {
		if errors.Is(err, sentinel) {
			return http.StatusNotFound, errorPayload{
				Type:    "not_found",
				Code:    sentinel.Error(),
				Message: "not found",
			}
		}
	}
	for _, sentinel := range conflictErrors {
		if errors.Is(err, sentinel) {
			return http.StatusConflict, errorPayload{
				Type:    "invalid_state_transition",
				Code:    sentinel.Error(),
				Message: "operation not allowed in the invoice's current state",
			}
		}
	}
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
