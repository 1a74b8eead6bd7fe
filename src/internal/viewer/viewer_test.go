package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/molecule"
)

func record(name string) *molecule.Record {
	r := &molecule.Record{
		Name: name,
		Atoms: []molecule.Atom{
			{Element: "O"},
			{Element: "H", X: 0.76, Y: 0.59},
			{Element: "H", X: -0.76, Y: 0.59},
		},
		Bonds: []molecule.Bond{{Source: 0, Target: 1}, {Source: 0, Target: 2}},
	}
	elements.Default().Enrich(r)
	return r
}

type fakeSink struct {
	mu     sync.Mutex
	frames int
	events []Event
	fail   error
	got    chan struct{}
}

func newSink() *fakeSink { return &fakeSink{got: make(chan struct{}, 64)} }

func (f *fakeSink) Frame(png []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.frames++
	select {
	case f.got <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeSink) Event(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func TestStaleTicketDiscarded(t *testing.T) {
	s := NewSession(Options{Width: 64, Height: 48})
	defer s.Close()

	first := s.Begin("water")
	second := s.Begin("methane")

	applied, err := s.Deliver(first, record("water"))
	if err != nil || applied {
		t.Fatalf("stale delivery applied=%v err=%v", applied, err)
	}
	if s.Record() != nil {
		t.Fatal("stale record replaced the scene")
	}
	applied, err = s.Deliver(second, record("methane"))
	if err != nil || !applied {
		t.Fatalf("current delivery applied=%v err=%v", applied, err)
	}
	if s.Record().Name != "methane" {
		t.Errorf("active record = %q", s.Record().Name)
	}
	if s.Current(second) {
		t.Error("delivered ticket should no longer be pending")
	}
}

func TestLoadResetsView(t *testing.T) {
	s := NewSession(Options{Width: 64, Height: 48})
	defer s.Close()
	s.Apply(Input{Type: InputPointerDown})
	s.Apply(Input{Type: InputPointerMove, DX: 40, DY: 10})
	if err := s.Load(record("water")); err != nil {
		t.Fatal(err)
	}
	v := s.Controller().View()
	if v.Yaw != 0 || v.Pitch != 0 || s.Controller().Dragging() {
		t.Errorf("view not reset on load: %+v", v)
	}
}

func TestFrameWithoutRecord(t *testing.T) {
	s := NewSession(Options{})
	defer s.Close()
	frame, err := s.Frame()
	if err != nil || frame != nil {
		t.Errorf("expected no frame, got %d bytes err=%v", len(frame), err)
	}
}

func TestRunStreamsFrames(t *testing.T) {
	s := NewSession(Options{FPS: 100, Width: 32, Height: 32})
	if err := s.Load(record("water")); err != nil {
		t.Fatal(err)
	}
	sink := newSink()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, sink) }()

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(5 * time.Second):
			t.Fatal("no frame received")
		}
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if !s.Closed() || s.Record() != nil {
		t.Error("session not released after Run")
	}
}

func TestRunReleasesOnSinkError(t *testing.T) {
	s := NewSession(Options{FPS: 100, Width: 32, Height: 32})
	if err := s.Load(record("water")); err != nil {
		t.Fatal(err)
	}
	sink := newSink()
	sink.fail = errors.New("socket gone")
	err := s.Run(context.Background(), sink)
	if err == nil {
		t.Fatal("expected sink error")
	}
	if !s.Closed() {
		t.Error("session not closed after sink error")
	}
	if _, err := s.Deliver(s.Begin("late"), record("late")); err != nil {
		t.Errorf("delivery after close should be a silent no-op, got %v", err)
	}
	if err := s.Load(record("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after close = %v", err)
	}
}

func TestApplyInput(t *testing.T) {
	s := NewSession(Options{})
	defer s.Close()
	if err := s.Apply(Input{Type: InputWheel, DeltaY: 1e6}); err != nil {
		t.Fatal(err)
	}
	if d := s.Controller().View().Distance; d != 20 {
		t.Errorf("distance = %v", d)
	}
	if err := s.Apply(Input{Type: "teleport"}); err == nil {
		t.Error("expected error for unknown input")
	}
}

func TestManager(t *testing.T) {
	m := NewManager(Options{})
	a := m.Create()
	b := m.Create()
	if a.ID == b.ID {
		t.Fatal("session ids collide")
	}
	if m.Get(a.ID) != a || m.Count() != 2 {
		t.Fatal("manager lookup failed")
	}
	m.Remove(a.ID)
	if m.Get(a.ID) != nil || !a.Closed() {
		t.Error("removed session still tracked or open")
	}
	m.CloseAll()
	if m.Count() != 0 || !b.Closed() {
		t.Error("CloseAll left sessions open")
	}
}
