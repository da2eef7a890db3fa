package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetProjectRollup(c *gin.Context) {
	result, err := s.rollupSvc.ForProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
