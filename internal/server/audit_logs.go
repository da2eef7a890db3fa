package server

import (
	"net/http"
	"strings"

	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Action = strings.TrimSpace(c.Query("action"))
	req.TargetType = strings.TrimSpace(c.Query("target_type"))
	req.TargetID = strings.TrimSpace(c.Query("target_id"))

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
