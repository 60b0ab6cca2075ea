package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit/pkg/api"
)

func (s *Server) listFlows(c *gin.Context) {
	flows := s.flows.Info()
	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: flows,
		Count: len(flows),
	})
}
