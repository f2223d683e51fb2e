package popup

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// Pending is an open popup awaiting its single outcome.
type Pending interface {
	// Await blocks until the popup resolves or ctx is done.
	Await(ctx context.Context) (Outcome, error)
	// Close resolves the popup as closed if it is still open and releases it.
	Close()
}

// Handle is a single-use popup. It resolves exactly once: with a payload, an error, or
// the synthetic closed outcome.
type Handle struct {
	id       string
	kind     Kind
	session  string
	device   string
	params   map[string]string
	openedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time

	once    sync.Once
	done    chan struct{}
	outcome Outcome

	release func(*Handle, Outcome)
}

func newHandle(id, session, device string, kind Kind, params map[string]string, now time.Time, release func(*Handle, Outcome)) *Handle {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return &Handle{
		id:       id,
		kind:     kind,
		session:  session,
		device:   device,
		params:   copied,
		openedAt: now,
		lastSeen: now,
		done:     make(chan struct{}),
		release:  release,
	}
}

// ID returns the handle identifier.
func (h *Handle) ID() string { return h.id }

// Kind returns the popup kind.
func (h *Handle) Kind() Kind { return h.kind }

// Done is closed once the handle has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// resolve records the outcome if the handle is still open and reports whether it did.
func (h *Handle) resolve(outcome Outcome) bool {
	resolved := false
	h.once.Do(func() {
		outcome.Kind = h.kind
		h.outcome = outcome
		resolved = true
		if h.release != nil {
			h.release(h, outcome)
		}
		close(h.done)
	})
	return resolved
}

// Await blocks until the handle resolves or ctx is done. A cancelled ctx leaves the
// handle open; callers release it with Close.
func (h *Handle) Await(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close resolves the handle as closed if no outcome was delivered.
func (h *Handle) Close() {
	h.resolve(Closed(h.kind))
}

func (h *Handle) ownedBy(device string) bool {
	return subtle.ConstantTimeCompare([]byte(h.device), []byte(device)) == 1
}

func (h *Handle) touch(now time.Time) {
	h.mu.Lock()
	h.lastSeen = now
	h.mu.Unlock()
}

func (h *Handle) stale(now time.Time, liveness, ttl time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ttl > 0 && now.Sub(h.openedAt) > ttl {
		return true
	}
	return liveness > 0 && now.Sub(h.lastSeen) > liveness
}
