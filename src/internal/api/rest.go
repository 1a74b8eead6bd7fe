package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"

	"molecule-lab/src/internal/catalog"
	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/export"
	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"

	"github.com/gin-gonic/gin"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
)

// respondError maps gateway errors onto status codes. Generation failures
// are all reported the same way since the user can only retry.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": gateway.EmptyQueryMessage})
	case errors.Is(err, gateway.ErrGeneration):
		c.JSON(http.StatusBadGateway, gin.H{"error": gateway.FailureMessage})
	case errors.Is(err, gateway.ErrSpeechDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "speech is disabled"})
	case errors.Is(err, gateway.ErrSpeech):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Narration is unavailable right now."})
	default:
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleSamples(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gin.H{"samples": gw.Samples()})
}

func (s *Server) handleParams(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gw.Params())
}

type generateRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	rec, err := gw.Generate(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "stats": molecule.Analyze(rec)})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query param required"})
		return
	}
	limit := defaultSearchLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxSearchLimit)
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	res, err := gw.Search(c.Request.Context(), q, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if res == nil {
		res = []catalog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"results": res})
}

type recordRequest struct {
	Record *molecule.Record `json:"record"`
}

func (s *Server) handleScene(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Record == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record required"})
		return
	}
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gin.H{"scene": gw.Scene(req.Record), "params": gw.Params()})
}

type exportRequest struct {
	Query  string           `json:"query,omitempty"`
	Record *molecule.Record `json:"record,omitempty"`
	Save   bool             `json:"save,omitempty"`
}

func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	rec := req.Record
	if rec == nil {
		if req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record or query required"})
			return
		}
		var err error
		rec, err = gw.Generate(c.Request.Context(), req.Query)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	doc, err := gw.Export(rec, req.Save)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	c.Data(http.StatusOK, export.ContentType, doc.Content)
}

type snapshotRequest struct {
	Record   *molecule.Record `json:"record"`
	Yaw      float64          `json:"yaw"`
	Pitch    float64          `json:"pitch"`
	Distance float64          `json:"distance"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
}

func (s *Server) handleSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Record == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record required"})
		return
	}
	gw := c.MustGet("gateway").(*gateway.Gateway)
	if req.Width <= 0 {
		req.Width = gw.Viewers.Options().Width
	}
	if req.Height <= 0 {
		req.Height = gw.Viewers.Options().Height
	}
	view := interaction.ViewTransform{Yaw: req.Yaw, Pitch: req.Pitch, Distance: req.Distance}
	png, err := gw.Snapshot(req.Record, view, req.Width, req.Height)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

type speechRequest struct {
	Text string `json:"text" binding:"required"`
	Name string `json:"name"`
}

func (s *Server) handleSpeech(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gw := c.MustGet("gateway").(*gateway.Gateway)
	sp, err := gw.Speak(c.Request.Context(), req.Name, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audio":       sp.Audio,
		"sample_rate": sp.Clip.SampleRate,
		"samples":     len(sp.Clip.Samples),
		"duration_ms": sp.Clip.Duration().Milliseconds(),
	})
}

// handleGetFile serves saved lab reports. The bare path lists them.
func (s *Server) handleGetFile(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	name := c.Param("filepath")

	if name == "" || name == "/" {
		list, err := gw.Storage.ListExports()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"files": list})
		return
	}

	path, err := gw.Storage.ExportPath(name)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found in exports folder"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	if info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot download directory"})
		return
	}

	c.File(path)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	c.JSON(http.StatusOK, gw.CurrentConfig())
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var cfg config.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gw := c.MustGet("gateway").(*gateway.Gateway)
	old := gw.CurrentConfig()
	if cfg.StorageDir == "" {
		cfg.StorageDir = old.StorageDir
	}
	// admin_pass is never serialized, so an empty one means unchanged
	if cfg.Server.AdminPass == "" {
		cfg.Server.AdminPass = old.Server.AdminPass
	}
	if err := gw.UpdateConfig(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Save(&cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "config updated"})
}
