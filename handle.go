package ejdb2

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ejdb2.dev/ejdb2go/metrics"
)

type handleState int32

const (
	stateUninitialized handleState = iota
	stateValid
	stateReleased
	stateInvalid
)

func (s handleState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateValid:
		return "valid"
	case stateReleased:
		return "released"
	default:
		return "invalid"
	}
}

// handle owns one opaque native pointer. The pointer is freed exactly once,
// whichever of Close, an error path or the garbage collector gets there
// first. A release requested while calls are in flight on the handle marks
// it released at once and frees the pointer when the last call returns.
type handle struct {
	kind      string
	free      func(raw uintptr) error
	closedErr error

	mu       sync.Mutex
	raw      uintptr
	state    handleState
	inflight int

	cleanup    runtime.Cleanup
	hasCleanup bool
}

// acquire takes ownership of raw. A zero raw yields a handle in the terminal
// invalid state which owns nothing.
func acquire(kind string, raw uintptr, free func(uintptr) error, closedErr error) *handle {
	h := &handle{kind: kind, free: free, closedErr: closedErr}
	if raw == 0 {
		h.state = stateInvalid
		return h
	}
	h.raw, h.state = raw, stateValid
	metrics.HandlesOpen.WithLabelValues(kind).Inc()
	return h
}

// attachCleanup frees h if owner becomes unreachable without an explicit
// release. h must not reference owner.
func attachCleanup[T any](owner *T, h *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateValid {
		return
	}
	h.cleanup = runtime.AddCleanup(owner, releaseAbandoned, h)
	h.hasCleanup = true
}

func releaseAbandoned(h *handle) {
	kind := h.kind
	if released, err := h.release(); released {
		metrics.HandlesAbandonedTotal.WithLabelValues(kind).Inc()
		log.WithFields(log.Fields{"kind": kind, "err": err}).
			Warn("native handle was garbage collected without being closed")
	}
}

func (h *handle) isValid() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateValid
}

// use runs fn with the raw pointer, which stays live until fn returns.
func (h *handle) use(fn func(raw uintptr) error) error {
	raw, err := h.enter()
	if err != nil {
		return err
	}
	defer h.exit()
	return fn(raw)
}

func (h *handle) enter() (uintptr, error) {
	if h == nil {
		return 0, errors.WithStack(ErrInvalidHandle)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateValid:
		h.inflight++
		return h.raw, nil
	case stateReleased:
		return 0, errors.WithStack(h.closedErr)
	default:
		return 0, errors.Wrapf(ErrInvalidHandle, "%s handle is %s", h.kind, h.state)
	}
}

func (h *handle) exit() {
	h.mu.Lock()
	h.inflight--
	raw := h.drainLocked()
	h.mu.Unlock()

	if raw != 0 {
		if err := h.free(raw); err != nil {
			log.WithFields(log.Fields{"kind": h.kind, "err": err}).Warn("deferred release of native handle failed")
		}
	}
}

// release frees the native pointer. It reports true only for the call which
// moved the handle out of the valid state. The returned error is that of the
// native release function, when it ran synchronously. Releasing an already
// released handle is a no-op; releasing one that never owned a pointer is
// ErrInvalidHandle.
func (h *handle) release() (bool, error) {
	if h == nil {
		return false, errors.WithStack(ErrInvalidHandle)
	}
	h.mu.Lock()
	switch h.state {
	case stateValid:
	case stateReleased:
		h.mu.Unlock()
		return false, nil
	default:
		state := h.state
		h.mu.Unlock()
		return false, errors.Wrapf(ErrInvalidHandle, "%s handle is %s", h.kind, state)
	}
	h.state = stateReleased
	if h.hasCleanup {
		h.cleanup.Stop()
		h.hasCleanup = false
	}
	raw := h.drainLocked()
	h.mu.Unlock()

	if raw == 0 {
		// Freed by the last in-flight call.
		return true, nil
	}
	return true, h.free(raw)
}

// drainLocked hands the pointer out for freeing once the handle is released
// and idle. It returns zero otherwise.
func (h *handle) drainLocked() uintptr {
	if h.state != stateReleased || h.inflight != 0 || h.raw == 0 {
		return 0
	}
	raw := h.raw
	h.raw = 0
	metrics.HandlesOpen.WithLabelValues(h.kind).Dec()
	return raw
}
