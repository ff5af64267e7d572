package engine

import (
	"errors"
	"sync"
)

// CloseFunc is a deferred cleanup callback registered during a node run,
// typically by connectors that open streams or pooled clients.
type CloseFunc func() error

// CloseRegistry collects cleanup callbacks and drains them exactly once in
// registration order. Registration after CloseAll runs the callback's error
// path immediately via ErrRegistryClosed.
type CloseRegistry struct {
	mu     sync.Mutex
	funcs  []CloseFunc
	closed bool
}

// ErrRegistryClosed is returned when a close function is registered after the
// registry has been drained.
var ErrRegistryClosed = errors.New("close registry already drained")

// NewCloseRegistry creates an empty CloseRegistry.
func NewCloseRegistry() *CloseRegistry {
	return &CloseRegistry{}
}

// Register adds fn to the registry. It returns ErrRegistryClosed if CloseAll
// has already run; the caller is then responsible for fn's resources.
func (r *CloseRegistry) Register(fn CloseFunc) error {
	if fn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.funcs = append(r.funcs, fn)
	return nil
}

// Len returns the number of registered, not-yet-drained callbacks.
func (r *CloseRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}

// CloseAll runs every registered callback in registration order, exactly
// once. Every callback runs even when earlier ones fail; the errors are
// joined. Subsequent calls are no-ops returning nil.
func (r *CloseRegistry) CloseAll() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	funcs := r.funcs
	r.funcs = nil
	r.mu.Unlock()

	var errs []error
	for _, fn := range funcs {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
