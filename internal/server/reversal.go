package server

import (
	"net/http"

	reversaldomain "github.com/fakturo/fakturo/internal/reversal/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateCancellation(c *gin.Context) {
	var req reversaldomain.CreateCancellationRequest
	// The body (reason) is optional for a cancellation.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	req.InvoiceID = c.Param("id")

	result, err := s.reversalSvc.CreateCancellation(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) CreateCreditNote(c *gin.Context) {
	var req reversaldomain.CreateCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.InvoiceID = c.Param("id")

	result, err := s.reversalSvc.CreateCreditNote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}
