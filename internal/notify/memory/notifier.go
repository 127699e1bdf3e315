// Package memory contains an in-memory notifier for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/email-signature/internal/signature"
)

// Notifier stores events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	events []signature.Event
	err    error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes every following Notify call return err. Pass nil to reset.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records the event.
func (n *Notifier) Notify(_ context.Context, event signature.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

// Events returns the recorded events.
func (n *Notifier) Events() []signature.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]signature.Event, len(n.events))
	copy(out, n.events)
	return out
}
