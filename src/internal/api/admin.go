package api

import (
	"errors"
	"net/http"
	"os"

	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/system"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleAdminHealth(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, adminHealthResponse{
		Status:  "ok",
		Message: "Admin API is operational",
		System:  system.GetInfo(),
		Viewers: gw.Viewers.Count(),
		Catalog: gw.CatalogSize(),
	})
}

type adminHealthResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	System  system.Info `json:"system"`
	Viewers int         `json:"viewers"`
	Catalog int         `json:"catalog"`
}

func (s *Server) handleCacheStats(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	st, err := gw.CacheStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleClearCache(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if err := gw.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cache cleared"})
}

func (s *Server) handleListViewers(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gin.H{"sessions": gw.Viewers.ListIDs()})
}

func (s *Server) handleLastWarmup(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	report, err := gw.LastWarmup()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no warmup has run yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRunWarmup(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	report, err := gw.RunWarmup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
