package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoiceRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := invoicedomain.InvoiceStatus(strings.ToUpper(raw))
		req.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		typ := invoicedomain.InvoiceType(strings.ToUpper(raw))
		req.Type = &typ
	}
	if raw := strings.TrimSpace(c.Query("customer_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, invoicedomain.ErrInvalidCustomer)
			return
		}
		req.CustomerID = &id
	}
	if raw := strings.TrimSpace(c.Query("project_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, invoicedomain.ErrInvalidInvoiceID)
			return
		}
		req.ProjectID = &id
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	item, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RefreshInvoiceStatus(c *gin.Context) {
	item, err := s.invoiceSvc.RefreshStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
