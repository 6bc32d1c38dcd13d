package services

import (
	"sync"
	"time"

	domain "github.com/climate-atlas/boundary-api/internal/domain"
)

// ViewportPhase is the animation state of a single viewport.
type ViewportPhase int

const (
	// ViewportIdle means no animation is in flight.
	ViewportIdle ViewportPhase = iota
	// ViewportAnimatingFromSelf means the viewport is animating to a view its
	// own user produced.
	ViewportAnimatingFromSelf
	// ViewportAnimatingFromBroadcast means the viewport is animating to a view
	// broadcast by a sibling. View changes observed in this phase are echoes of
	// the programmatic animation and must not re-broadcast.
	ViewportAnimatingFromBroadcast
)

// Viewport is one rendered map pane. It owns cloned layer geometry and a small
// animation state machine that prevents broadcast feedback loops.
type Viewport struct {
	mu sync.Mutex

	id     string
	view   domain.ViewState
	phase  ViewportPhase
	cancel func()

	layers           domain.BoundaryLayers
	provinceMask     *domain.BoundaryLayers
	drill            *domain.DrillState
	schedule         AnimationScheduler
	animationDur     time.Duration
	onAnimationDone  func(*Viewport)
	animationCounter uint64
}

// NewViewport constructs an idle viewport.
func NewViewport(id string, view domain.ViewState, schedule AnimationScheduler, animationDur time.Duration) *Viewport {
	if schedule == nil {
		schedule = TimerAnimationScheduler
	}
	if animationDur <= 0 {
		animationDur = 200 * time.Millisecond
	}
	return &Viewport{
		id:           id,
		view:         view,
		schedule:     schedule,
		animationDur: animationDur,
	}
}

// ID returns the viewport identifier.
func (v *Viewport) ID() string { return v.id }

// View returns the viewport's current target view.
func (v *Viewport) View() domain.ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view
}

// Phase returns the current animation phase.
func (v *Viewport) Phase() ViewportPhase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// BeginUserView records a user-driven view change. It is rejected while the
// viewport is animating a broadcast: in that window the viewport's own change
// events are echoes, and accepting them would re-broadcast the broadcast.
func (v *Viewport) BeginUserView(view domain.ViewState) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == ViewportAnimatingFromBroadcast {
		return false
	}
	v.startAnimationLocked(view, ViewportAnimatingFromSelf)
	return true
}

// ApplyBroadcast animates the viewport toward a sibling's view. Only an idle
// viewport accepts a broadcast; a busy viewport reports false and converges
// later via its animation-done hook.
func (v *Viewport) ApplyBroadcast(view domain.ViewState) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase != ViewportIdle {
		return false
	}
	v.startAnimationLocked(view, ViewportAnimatingFromBroadcast)
	return true
}

// ForceView cancels any in-flight animation and applies the view as a
// broadcast. Used for country and layout resets where every pane must follow.
func (v *Viewport) ForceView(view domain.ViewState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.startAnimationLocked(view, ViewportAnimatingFromBroadcast)
}

// SetViewDirect moves the viewport without broadcast semantics. Drill-down
// uses it to fit a province on this pane only.
func (v *Viewport) SetViewDirect(view domain.ViewState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.startAnimationLocked(view, ViewportAnimatingFromSelf)
}

func (v *Viewport) startAnimationLocked(view domain.ViewState, phase ViewportPhase) {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.view = view
	v.phase = phase
	v.animationCounter++
	seq := v.animationCounter

	v.cancel = v.schedule(v.animationDur, func() {
		v.completeAnimation(seq)
	})
}

func (v *Viewport) completeAnimation(seq uint64) {
	v.mu.Lock()
	if seq != v.animationCounter {
		// A newer animation superseded this one.
		v.mu.Unlock()
		return
	}
	v.phase = ViewportIdle
	v.cancel = nil
	done := v.onAnimationDone
	v.mu.Unlock()

	if done != nil {
		done(v)
	}
}

// AttachLayers replaces the viewport's cloned country layers.
func (v *Viewport) AttachLayers(layers domain.BoundaryLayers) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layers = layers
}

// Layers returns the currently attached country layers.
func (v *Viewport) Layers() domain.BoundaryLayers {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.layers
}

// AttachDrill installs the transient province mask and drill state.
func (v *Viewport) AttachDrill(state *domain.DrillState, provinceMask *domain.BoundaryLayers) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drill = state
	v.provinceMask = provinceMask
}

// Drill returns the active drill state, if any.
func (v *Viewport) Drill() *domain.DrillState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drill
}

// ProvinceMask returns the transient drill layers, if any.
func (v *Viewport) ProvinceMask() *domain.BoundaryLayers {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.provinceMask
}

// ClearDrill removes the transient province layers and drill state.
func (v *Viewport) ClearDrill() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drill = nil
	v.provinceMask = nil
}

// Stop cancels any pending animation callback.
func (v *Viewport) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.phase = ViewportIdle
	v.animationCounter++
}
