package viewer

import "fmt"

const (
	InputPointerDown = "pointer_down"
	InputPointerMove = "pointer_move"
	InputPointerUp   = "pointer_up"
	InputWheel       = "wheel"
	InputResize      = "resize"
	InputQuery       = "query"
)

// Input is one client message.
type Input struct {
	Type   string  `json:"type"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Query  string  `json:"query,omitempty"`
}

// Apply routes pointer, wheel and resize input to the session. Queries are
// not handled here since they need the gateway.
func (s *Session) Apply(in Input) error {
	switch in.Type {
	case InputPointerDown:
		s.ctrl.PointerDown()
	case InputPointerMove:
		s.ctrl.PointerMove(in.DX, in.DY)
	case InputPointerUp:
		s.ctrl.PointerUp()
	case InputWheel:
		s.ctrl.Wheel(in.DeltaY)
	case InputResize:
		s.Resize(in.Width, in.Height)
	default:
		return fmt.Errorf("unsupported input %q", in.Type)
	}
	return nil
}
