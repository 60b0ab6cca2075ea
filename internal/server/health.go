package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit"
	"github.com/kode4food/conduit/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.tracer.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, api.HealthResponse{
			Service: conduit.Name,
			Status:  api.HealthUnhealthy,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, api.HealthResponse{
		Service: conduit.Name,
		Status:  api.HealthOK,
	})
}
