package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"molecule-lab/src/internal/gateway"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Gateway *gateway.Gateway
	Engine  *gin.Engine
}

func NewServer(gw *gateway.Gateway) *Server {
	e := gin.Default()
	s := &Server{
		Gateway: gw,
		Engine:  e,
	}
	s.Engine.Use(s.corsMiddleware())
	s.Engine.Use(s.injectMiddleware())
	s.Engine.Use(s.authMiddleware())
	s.setupRoutesPage()
	s.setupRoutesRest()
	s.setupRoutesWebSocket()
	s.setupRoutesAdmin()
	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Server-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutesPage() {
	s.Engine.GET("/", s.handleIndex)
}

func (s *Server) setupRoutesAdmin() {
	admin := s.Engine.Group("/api/admin/v1", s.adminMiddleware())
	{
		admin.GET("/health", s.handleAdminHealth)
		admin.GET("/config", s.handleGetConfig)
		admin.POST("/config", s.handleUpdateConfig)
		admin.GET("/cache", s.handleCacheStats)
		admin.DELETE("/cache", s.handleClearCache)
		admin.GET("/viewers", s.handleListViewers)
		admin.GET("/warmup", s.handleLastWarmup)
		admin.POST("/warmup", s.handleRunWarmup)
	}
}

func (s *Server) setupRoutesWebSocket() {
	s.Engine.GET("/ws/viewer", s.handleViewer)
}

func (s *Server) setupRoutesRest() {
	v1 := s.Engine.Group("/api/v1")
	{
		v1.GET("/samples", s.handleSamples)
		v1.GET("/params", s.handleParams)
		v1.POST("/molecules", s.handleGenerate)
		v1.GET("/molecules/search", s.handleSearch)
		v1.POST("/scene", s.handleScene)
		v1.POST("/export", s.handleExport)
		v1.POST("/snapshot", s.handleSnapshot)
		v1.POST("/speech", s.handleSpeech)
		v1.GET("/files/*filepath", s.handleGetFile)
	}
}

func (s *Server) injectMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("gateway", s.Gateway)
		c.Next()
	}
}

// wsKeyLabel precedes the key in a "molab-key, <key>" subprotocol pair.
const wsKeyLabel = "molab-key"

func isWebSocket(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")
}

// providedKey reads the server key. Browsers cannot set headers on a
// websocket handshake, so there it may also come as the token query
// parameter or as a subprotocol pair.
func providedKey(c *gin.Context) string {
	if k := c.GetHeader("X-Server-Key"); k != "" {
		return k
	}
	if !isWebSocket(c) {
		return ""
	}
	if k := c.Query("token"); k != "" {
		return k
	}
	parts := strings.Split(c.GetHeader("Sec-WebSocket-Protocol"), ",")
	for i := 0; i+1 < len(parts); i++ {
		if strings.TrimSpace(parts[i]) == wsKeyLabel {
			return strings.TrimSpace(parts[i+1])
		}
	}
	return ""
}

func sameSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/admin/v1") || path == "/" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		gw := c.MustGet("gateway").(*gateway.Gateway)
		key := gw.CurrentConfig().Server.Key
		if key == "" {
			c.Next()
			return
		}
		if isWebSocket(c) && c.GetHeader("Sec-WebSocket-Protocol") != "" {
			c.Set("molab_ws_key", true)
		}

		provided := providedKey(c)
		if !sameSecret(provided, key) {
			slog.Warn("unauthorized request", "path", path, "remote", c.ClientIP(), "provided", provided != "")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing server key"})
			return
		}
		c.Next()
	}
}

// adminMiddleware requires basic auth; with no admin credentials configured
// the admin API stays closed.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		srv := c.MustGet("gateway").(*gateway.Gateway).CurrentConfig().Server
		user, pass, ok := c.Request.BasicAuth()
		if srv.AdminUser == "" || srv.AdminPass == "" || !ok ||
			!sameSecret(user, srv.AdminUser) || !sameSecret(pass, srv.AdminPass) {
			c.Header("WWW-Authenticate", `Basic realm="Admin Restricted"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 60 * time.Second,
		ReadTimeout:       600 * time.Second,
		WriteTimeout:      600 * time.Second,
		IdleTimeout:       1200 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed && err != nil {
			slog.Error("server ListenAndServe error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	ctxShut, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server graceful shutdown error", "error", err)
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	if s.Gateway != nil && s.Gateway.Viewers != nil {
		slog.Info("closing viewer sessions", "count", s.Gateway.Viewers.Count())
		s.Gateway.Viewers.CloseAll()
	}

	slog.Info("server stopped")

	return nil
}
