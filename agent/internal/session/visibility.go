package session

import "sync"

// Visibility reports whether any consumer is currently looking at the view.
type Visibility interface {
	Visible() bool
	// OnChange registers fn to be called with the new value on every change.
	// The returned func unregisters it.
	OnChange(fn func(visible bool)) (unregister func())
}

// Static is a Visibility that never changes.
type Static bool

func (s Static) Visible() bool                      { return bool(s) }
func (s Static) OnChange(func(visible bool)) func() { return func() {} }

// Toggle is a settable Visibility. The zero value is hidden.
type Toggle struct {
	mu        sync.Mutex
	visible   bool
	next      int
	listeners map[int]func(bool)
}

// NewToggle returns a Toggle starting at visible.
func NewToggle(visible bool) *Toggle {
	return &Toggle{visible: visible}
}

// Visible reports the current value.
func (t *Toggle) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Set changes the value. Listeners run synchronously, outside the lock, and
// only when the value actually changed.
func (t *Toggle) Set(visible bool) {
	t.mu.Lock()
	if t.visible == visible {
		t.mu.Unlock()
		return
	}
	t.visible = visible
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}

// OnChange registers fn.
func (t *Toggle) OnChange(fn func(visible bool)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listeners == nil {
		t.listeners = make(map[int]func(bool))
	}
	id := t.next
	t.next++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}
