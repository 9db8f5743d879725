package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
)

func (s *Server) negotiate(c *gin.Context) {
	var req bundle.NegotiateRequest
	if !s.bind(c, &req) {
		return
	}
	if req.AntiAbuseToken == "" {
		req.AntiAbuseToken = c.GetHeader(common.AntiAbuseHeaderName)
	}

	resp, err := s.bundles.Negotiate(c.Request.Context(), req, tierOf(c), c.ClientIP())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) finalize(c *gin.Context) {
	var req bundle.FinalizeRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.bundles.Finalize(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancel(c *gin.Context) {
	var req bundle.CancelRequest
	if !s.bind(c, &req) {
		return
	}

	if err := s.bundles.Cancel(c.Request.Context(), req); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) downloads(c *gin.Context) {
	var req bundle.ReadLocationsRequest
	if !s.bind(c, &req) {
		return
	}

	resp, err := s.bundles.ReadLocations(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, bundle.ErrorResponse{Error: "malformed request: " + err.Error()})
		return false
	}
	return true
}
