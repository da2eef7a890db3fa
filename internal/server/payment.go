package server

import (
	"net/http"

	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ApplyPayment(c *gin.Context) {
	var req paymentdomain.ApplyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.InvoiceID = c.Param("id")

	result, err := s.paymentSvc.ApplyPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"data": result}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListPayments(c *gin.Context) {
	payments, err := s.paymentSvc.ListByInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}
