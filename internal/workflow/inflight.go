package workflow

import (
	"sync"

	"github.com/woodmarket/orderflow/internal/domain"
	"github.com/woodmarket/orderflow/pkg/errors"
)

type inFlightKey struct {
	ref  domain.OrderRef
	kind domain.ActionKind
}

// InFlight rejects a second concurrent run of the same action on the same order.
// It is per process; persisted idempotency keys cover retries across instances.
type InFlight struct {
	mu      sync.Mutex
	running map[inFlightKey]struct{}
}

// NewInFlight creates an empty registry
func NewInFlight() *InFlight {
	return &InFlight{running: make(map[inFlightKey]struct{})}
}

// Acquire claims (ref, kind). The returned release func must be called exactly once;
// extra calls are no-ops.
func (f *InFlight) Acquire(ref domain.OrderRef, kind domain.ActionKind) (func(), error) {
	key := inFlightKey{ref: ref, kind: kind}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.running[key]; busy {
		return nil, &errors.ErrActionInFlight{OrderRef: ref.String(), Action: kind}
	}
	f.running[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.running, key)
			f.mu.Unlock()
		})
	}, nil
}

// Busy reports whether the action is currently running for the order
func (f *InFlight) Busy(ref domain.OrderRef, kind domain.ActionKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.running[inFlightKey{ref: ref, kind: kind}]
	return busy
}
