package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetDunningState(c *gin.Context) {
	view, err := s.dunningSvc.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// EvaluateDunning triggers a synchronous escalation check for one invoice,
// the manual companion to the daily scan.
func (s *Server) EvaluateDunning(c *gin.Context) {
	result, err := s.dunningSvc.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
