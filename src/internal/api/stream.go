package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/viewer"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsSink writes frames as binary messages and events as JSON text messages.
// gorilla/websocket allows one concurrent writer, hence the lock.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSink) Frame(png []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.BinaryMessage, png)
}

func (w *wsSink) Event(ev viewer.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(ev)
}

func (s *Server) upgrader(c *gin.Context) websocket.Upgrader {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
	}
	if _, ok := c.Get("molab_ws_key"); ok {
		// Browser sends multiple sub-protocols, we must split them
		// to satisfy the handshake, as we already verified it in authMiddleware
		requested := c.GetHeader("Sec-WebSocket-Protocol")
		if requested != "" {
			parts := strings.Split(requested, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			upgrader.Subprotocols = parts
		}
	}
	return upgrader
}

// handleViewer runs one live viewer session per connection. The reader loop
// feeds input to the session; frames are pushed by the session's own loop.
func (s *Server) handleViewer(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)

	upgrader := s.upgrader(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sess := gw.Viewers.Create()
	defer gw.Viewers.Remove(sess.ID)
	slog.Info("viewer connected", "session", sess.ID, "remote", c.ClientIP())

	w, _ := strconv.Atoi(c.Query("width"))
	h, _ := strconv.Atoi(c.Query("height"))
	sess.Resize(w, h)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sink := &wsSink{conn: ws}
	go func() {
		defer cancel()
		if err := sess.Run(ctx, sink); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("viewer frame loop stopped", "session", sess.ID, "error", err)
		}
	}()

	if q := c.Query("query"); q != "" {
		go gw.ViewerQuery(ctx, sess, sink, q)
	}

	for {
		var in viewer.Input
		if err := ws.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("viewer read ended", "session", sess.ID, "error", err)
			}
			break
		}
		if in.Type == viewer.InputQuery {
			go gw.ViewerQuery(ctx, sess, sink, in.Query)
			continue
		}
		if err := sess.Apply(in); err != nil {
			_ = sink.Event(viewer.Event{Type: viewer.EventError, Message: err.Error()})
		}
		if ctx.Err() != nil {
			break
		}
	}
	slog.Info("viewer disconnected", "session", sess.ID)
}
