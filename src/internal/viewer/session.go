// Package viewer runs live viewing sessions: one interaction controller, the
// active record and a raster renderer per session, driven by a frame loop.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/render"
	"molecule-lab/src/internal/scene"
	"molecule-lab/src/internal/system"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("viewer session closed")

const (
	EventLoading = "loading"
	EventRecord  = "record"
	EventError   = "error"
)

// Event is a JSON message pushed to the client next to the binary frames.
type Event struct {
	Type    string           `json:"type"`
	Query   string           `json:"query,omitempty"`
	Record  *molecule.Record `json:"record,omitempty"`
	Stats   *molecule.Stats  `json:"stats,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Sink receives the output of a session. Calls come from the frame goroutine
// and from whoever delivers generation results, so implementations must be
// safe for concurrent use.
type Sink interface {
	Frame(png []byte) error
	Event(ev Event) error
}

type Options struct {
	FPS         int
	Width       int
	Height      int
	Interaction interaction.Settings
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 600
	}
	o.Interaction = o.Interaction.Sanitize()
	return o
}

// Ticket identifies one query. Only the most recent ticket of a session may
// deliver its result.
type Ticket struct {
	ID    string
	Query string
}

type Session struct {
	ID   string
	opts Options
	ctrl *interaction.Controller

	composer *scene.Composer
	params   scene.Params

	mu       sync.Mutex
	record   *molecule.Record
	graph    *scene.Graph
	renderer *render.Renderer
	current  string
	width    int
	height   int
	closed   bool

	done chan struct{}
}

func NewSession(opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		ID:       uuid.NewString(),
		opts:     opts,
		ctrl:     interaction.NewController(opts.Interaction),
		composer: scene.NewComposer(nil, opts.Interaction.InitialDistance),
		params:   scene.NewParams(nil, opts.Interaction),
		width:    opts.Width,
		height:   opts.Height,
		done:     make(chan struct{}),
	}
}

func (s *Session) Controller() *interaction.Controller { return s.ctrl }

func (s *Session) Record() *molecule.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Begin starts a new query and supersedes every earlier one.
func (s *Session) Begin(query string) Ticket {
	t := Ticket{ID: uuid.NewString(), Query: query}
	s.mu.Lock()
	s.current = t.ID
	s.mu.Unlock()
	return t
}

// Current reports whether t is still the latest query.
func (s *Session) Current(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.current == t.ID
}

// Deliver loads rec if t is still current. Stale results are discarded and
// false is returned.
func (s *Session) Deliver(t Ticket, rec *molecule.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current != t.ID {
		slog.Debug("discarding stale result", "session", s.ID, "query", t.Query)
		return false, nil
	}
	s.current = ""
	if err := s.loadLocked(rec); err != nil {
		return true, err
	}
	return true, nil
}

// Load replaces the active record without a query.
func (s *Session) Load(rec *molecule.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.loadLocked(rec)
}

func (s *Session) loadLocked(rec *molecule.Record) error {
	s.releaseLocked()
	r, err := render.New(s.params)
	if err != nil {
		s.record, s.graph = nil, nil
		return fmt.Errorf("create renderer: %w", err)
	}
	g := s.composer.Compose(rec)
	for _, d := range g.Dropped {
		slog.Warn("dropped scene element", "session", s.ID, "kind", d.Kind, "index", d.Index, "reason", d.Reason)
	}
	s.record = rec
	s.graph = g
	s.renderer = r
	s.ctrl.Reset()
	return nil
}

func (s *Session) releaseLocked() {
	if s.renderer != nil {
		s.renderer.Close()
		s.renderer = nil
	}
	s.graph = nil
	s.record = nil
}

func (s *Session) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	s.mu.Lock()
	s.width, s.height = w, h
	s.mu.Unlock()
}

// Frame advances idle rotation and renders the current view. It returns nil
// without error when no record is loaded.
func (s *Session) Frame() ([]byte, error) {
	s.ctrl.Tick()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.renderer == nil || s.graph == nil {
		return nil, nil
	}
	return s.renderer.RenderPNG(s.graph, s.ctrl.View(), s.width, s.height)
}

// Run drives the frame loop until ctx is done, the session is closed or the
// sink fails. The renderer is released on every exit path.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	defer s.Close()
	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			frame, err := s.Frame()
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				return err
			}
			if frame == nil {
				continue
			}
			if err := sink.Frame(frame); err != nil {
				return fmt.Errorf("send frame: %w", err)
			}
		}
	}
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.current = ""
	s.releaseLocked()
	close(s.done)
	s.mu.Unlock()
	system.LogMemoryUsage("viewer session " + s.ID + " closed")
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
