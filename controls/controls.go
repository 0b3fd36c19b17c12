// Package controls decides whether the call controls are visible.
//
// On compact landscape viewports the controls auto-hide after a period
// without interaction. Everywhere else they stay visible.
package controls

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultIdleTimeout is how long controls stay visible without interaction.
	DefaultIdleTimeout = 3000 * time.Millisecond
	// DefaultCompactBreakpoint is the largest viewport dimension, in pixels,
	// still considered compact.
	DefaultCompactBreakpoint = 1024
)

// Viewport is the size of the call surface in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Landscape reports whether the viewport is wider than tall.
func (v Viewport) Landscape() bool {
	return v.Width > v.Height
}

// CompactLandscape reports whether the viewport is landscape with its larger
// dimension at or below breakpoint.
func (v Viewport) CompactLandscape(breakpoint int) bool {
	if !v.Landscape() {
		return false
	}
	return max(v.Width, v.Height) <= breakpoint
}

// Timer tracks controls visibility.
type Timer struct {
	idle       time.Duration
	breakpoint int
	debounced  func(f func())

	mu         sync.Mutex
	viewport   Viewport
	active     bool
	visible    bool
	generation uint64
	stopped    bool

	changeCallback func(visible bool)
}

// NewTimer creates a timer with the given idle timeout and compact
// breakpoint. Non-positive values use the defaults. Controls start visible.
func NewTimer(idle time.Duration, breakpoint int) *Timer {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if breakpoint <= 0 {
		breakpoint = DefaultCompactBreakpoint
	}

	return &Timer{
		idle:       idle,
		breakpoint: breakpoint,
		debounced:  debounce.New(idle),
		visible:    true,
	}
}

// SetChangeCallback registers a callback invoked when visibility flips.
func (t *Timer) SetChangeCallback(callback func(visible bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changeCallback = callback
}

// Visible reports whether controls are shown.
func (t *Timer) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Active reports whether the auto-hide timer is in effect.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Resize records a new viewport. Entering or staying in compact landscape
// shows the controls and restarts the idle timer; leaving it shows the
// controls permanently.
func (t *Timer) Resize(v Viewport) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.viewport = v
	wasActive := t.active
	t.active = v.CompactLandscape(t.breakpoint)

	if wasActive != t.active {
		logrus.WithFields(logrus.Fields{
			"function":   "Timer.Resize",
			"width":      v.Width,
			"height":     v.Height,
			"active":     t.active,
			"breakpoint": t.breakpoint,
		}).Debug("Controls auto-hide mode changed")
	}

	if !t.active {
		// Any pending hide belongs to the previous mode.
		t.generation++
		callback := t.showLocked()
		t.mu.Unlock()
		notify(callback, true)
		return
	}

	callback := t.resetLocked()
	t.mu.Unlock()
	notify(callback, true)
}

// PointerDown records an interaction with the call surface.
func (t *Timer) PointerDown() {
	t.mu.Lock()
	if t.stopped || !t.active {
		t.mu.Unlock()
		return
	}
	callback := t.resetLocked()
	t.mu.Unlock()
	notify(callback, true)
}

// Stop cancels any pending hide and leaves the controls visible.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.active = false
	t.generation++
	callback := t.showLocked()
	t.mu.Unlock()
	notify(callback, true)
}

// resetLocked shows the controls and schedules a hide for the current
// generation. It returns the change callback when visibility flipped.
func (t *Timer) resetLocked() func(bool) {
	t.generation++
	gen := t.generation
	callback := t.showLocked()
	t.debounced(func() { t.hide(gen) })
	return callback
}

func (t *Timer) showLocked() func(bool) {
	if t.visible {
		return nil
	}
	t.visible = true
	return t.changeCallback
}

func (t *Timer) hide(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.active || !t.visible {
		t.mu.Unlock()
		return
	}
	t.visible = false
	callback := t.changeCallback
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Timer.hide",
		"idle":     t.idle,
	}).Debug("Controls hidden after idle timeout")

	notify(callback, false)
}

func notify(callback func(bool), visible bool) {
	if callback != nil {
		callback(visible)
	}
}
