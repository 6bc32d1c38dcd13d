package services

import (
	"errors"
	"sync"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

var (
	// ErrViewportUnknown indicates the viewport id is not registered with the coordinator.
	ErrViewportUnknown = errors.New("view_coordinator: unknown viewport")
	// ErrViewRejected indicates the originating viewport is animating a broadcast
	// and the change was treated as an echo.
	ErrViewRejected = errors.New("view_coordinator: view change rejected")
)

// ViewCoordinator holds the single shared view and fans user-driven changes
// out to every sibling viewport. The fan-out happens under the coordinator
// lock so two broadcasts can never interleave: every viewport observes
// complete broadcasts in the same order, and the latest one wins.
type ViewCoordinator struct {
	mu        sync.Mutex
	viewports []*Viewport
	shared    domain.ViewState
	activeID  string
}

// NewViewCoordinator constructs a coordinator seeded with an initial shared view.
func NewViewCoordinator(initial domain.ViewState) *ViewCoordinator {
	return &ViewCoordinator{shared: initial}
}

// Attach registers a viewport, snaps it to the shared view, and wires its
// animation-done hook so a pane that was busy during a broadcast converges to
// the latest shared view once it goes idle.
func (c *ViewCoordinator) Attach(vp *Viewport) {
	if vp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	vp.onAnimationDone = c.converge
	vp.ForceView(c.shared)
	c.viewports = append(c.viewports, vp)
	if c.activeID == "" {
		c.activeID = vp.ID()
	}
}

// DetachAll unregisters every viewport and stops their animations.
func (c *ViewCoordinator) DetachAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, vp := range c.viewports {
		vp.onAnimationDone = nil
		vp.Stop()
	}
	c.viewports = nil
	c.activeID = ""
}

// Viewports returns the registered viewports in attach order.
func (c *ViewCoordinator) Viewports() []*Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Viewport, len(c.viewports))
	copy(out, c.viewports)
	return out
}

// Viewport returns the registered viewport with the given id.
func (c *ViewCoordinator) Viewport(id string) (*Viewport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(id)
}

// SharedView returns the current shared view.
func (c *ViewCoordinator) SharedView() domain.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shared
}

// ActiveViewportID returns the id of the viewport that most recently drove the view.
func (c *ViewCoordinator) ActiveViewportID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// SetView applies a user-driven view change originating from one viewport and
// broadcasts it to every sibling. The origin animates locally without
// receiving its own broadcast. Returns ErrViewRejected when the origin is
// animating a broadcast, which marks the change as an echo.
func (c *ViewCoordinator) SetView(originID string, view domain.ViewState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	origin, ok := c.findLocked(originID)
	if !ok {
		return ErrViewportUnknown
	}
	if !origin.BeginUserView(view) {
		return ErrViewRejected
	}

	c.shared = view
	c.activeID = originID
	for _, vp := range c.viewports {
		if vp.ID() == originID {
			continue
		}
		if vp.Drill() != nil {
			// A drilled pane keeps its province framing until back-navigation.
			continue
		}
		// Busy panes decline; their animation-done hook converges them.
		vp.ApplyBroadcast(view)
	}
	return nil
}

// ResetView force-broadcasts a view to every viewport, cancelling in-flight
// animations. Used on country and layout switches; the active viewport resets
// to the first pane.
func (c *ViewCoordinator) ResetView(view domain.ViewState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shared = view
	if len(c.viewports) > 0 {
		c.activeID = c.viewports[0].ID()
	}
	for _, vp := range c.viewports {
		vp.ForceView(view)
	}
}

// converge re-broadcasts the shared view to a viewport that finished animating
// at a stale target.
func (c *ViewCoordinator) converge(vp *Viewport) {
	c.mu.Lock()
	shared := c.shared
	if _, ok := c.findLocked(vp.ID()); !ok {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if vp.Drill() != nil {
		return
	}
	if vp.View() != shared {
		vp.ApplyBroadcast(shared)
	}
}

func (c *ViewCoordinator) findLocked(id string) (*Viewport, bool) {
	for _, vp := range c.viewports {
		if vp.ID() == id {
			return vp, true
		}
	}
	return nil, false
}
