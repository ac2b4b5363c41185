package main

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Handle identifies one of the four corner resize handles.
type Handle int

const (
	NoHandle Handle = iota
	TopLeft
	TopRight
	BottomLeft
	BottomRight
)

var handleNames = map[Handle]string{
	TopLeft:     "top-left",
	TopRight:    "top-right",
	BottomLeft:  "bottom-left",
	BottomRight: "bottom-right",
}

func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return "none"
}

func (h Handle) left() bool { return h == TopLeft || h == BottomLeft }
func (h Handle) top() bool  { return h == TopLeft || h == TopRight }

// ParseTarget maps a pointer target name to a handle. The image body maps to NoHandle.
func ParseTarget(s string) (Handle, error) {
	if s == "" || s == "body" {
		return NoHandle, nil
	}
	for h, name := range handleNames {
		if name == s {
			return h, nil
		}
	}
	return NoHandle, fmt.Errorf("unknown pointer target %q", s)
}

type InteractionMode int

const (
	Idle InteractionMode = iota
	Dragging
	Resizing
)

func (m InteractionMode) String() string {
	switch m {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// InteractionState is the transient gesture state. Handle is set only while resizing.
type InteractionState struct {
	Mode   InteractionMode
	Handle Handle
}

func (s InteractionState) String() string {
	if s.Mode == Resizing {
		return fmt.Sprintf("resizing(%s)", s.Handle)
	}
	return s.Mode.String()
}

// GestureScope is acquired when a gesture starts and released when it ends.
// It stands in for the global move/up listeners a pointer gesture subscribes to.
type GestureScope interface {
	Acquire() (release func())
}

type gesture struct {
	state         InteractionState
	startPointer  Point
	startGeometry Geometry
	release       func()
}

// end is the single cleanup path for a gesture. It is safe to call more than once.
func (g *gesture) end() {
	if g.release != nil {
		release := g.release
		g.release = nil
		release()
	}
}

// Controller turns pointer events into geometry updates.
// It tracks a single pointer; callers serialize access.
type Controller struct {
	frame    Frame
	geometry Geometry
	scope    GestureScope
	active   *gesture
	logger   zerolog.Logger
}

func NewController(frame Frame, initial Geometry, scope GestureScope, logger zerolog.Logger) *Controller {
	return &Controller{
		frame:    frame,
		geometry: initial,
		scope:    scope,
		logger:   logger,
	}
}

func (c *Controller) Geometry() Geometry {
	return c.geometry
}

func (c *Controller) State() InteractionState {
	if c.active == nil {
		return InteractionState{Mode: Idle}
	}
	return c.active.state
}

// PointerDown starts a drag (NoHandle) or a resize from the given corner handle.
// It reports false when a gesture is already in progress and the event was ignored.
func (c *Controller) PointerDown(target Handle, p Point) bool {
	if c.active != nil {
		c.logger.Debug().Stringer("state", c.active.state).Msg("pointer down ignored, gesture in progress")
		return false
	}

	state := InteractionState{Mode: Dragging}
	if target != NoHandle {
		state = InteractionState{Mode: Resizing, Handle: target}
	}

	g := &gesture{
		state:         state,
		startPointer:  p,
		startGeometry: c.geometry,
	}
	if c.scope != nil {
		g.release = c.scope.Acquire()
	}
	c.active = g

	c.logger.Debug().Stringer("state", state).Float64("x", p.X).Float64("y", p.Y).Msg("gesture started")
	return true
}

// PointerMove updates the geometry for the active gesture. Without one it is a no-op.
func (c *Controller) PointerMove(p Point) Geometry {
	if c.active == nil {
		return c.geometry
	}

	delta := p.Sub(c.active.startPointer)
	switch c.active.state.Mode {
	case Dragging:
		c.geometry = c.drag(delta)
	case Resizing:
		c.geometry = c.resize(c.active.state.Handle, delta)
	}
	return c.geometry
}

// PointerUp ends the active gesture.
func (c *Controller) PointerUp() {
	c.finish("up")
}

// PointerLeave ends the active gesture when the pointer leaves the tracked area.
func (c *Controller) PointerLeave() {
	c.finish("leave")
}

func (c *Controller) finish(reason string) {
	if c.active == nil {
		return
	}
	c.active.end()
	c.logger.Debug().Str("reason", reason).Stringer("state", c.active.state).Stringer("geometry", c.geometry).Msg("gesture ended")
	c.active = nil
}

func (c *Controller) drag(delta Point) Geometry {
	start := c.active.startGeometry
	pos := Point{X: start.Position.X + delta.X, Y: start.Position.Y + delta.Y}
	return Geometry{
		Position: clampPosition(pos, start.Size, c.frame),
		Size:     start.Size,
	}
}

func (c *Controller) resize(h Handle, delta Point) Geometry {
	start := c.active.startGeometry
	minWidth := float64(c.frame.Width) * minWidthRatio

	dx := delta.X
	if h.left() {
		dx = -dx
	}
	width := math.Max(minWidth, start.Size.Width+dx)
	size := Size{Width: width, Height: width / c.frame.Aspect}

	// keep the opposite corner in place
	pos := start.Position
	if h.left() {
		pos.X += start.Size.Width - size.Width
	}
	if h.top() {
		pos.Y += start.Size.Height - size.Height
	}

	size = coverSize(size, c.frame)
	return Geometry{
		Position: clampPosition(pos, size, c.frame),
		Size:     size,
	}
}

// logScope records listener attach and detach at debug level.
type logScope struct {
	logger zerolog.Logger
}

func (s logScope) Acquire() func() {
	s.logger.Debug().Msg("gesture listeners attached")
	return func() {
		s.logger.Debug().Msg("gesture listeners detached")
	}
}
