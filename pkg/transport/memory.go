package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/guardline/guardline/pkg/messages"
)

// ErrUnavailable simulates a transport outage in the in-memory channel
var ErrUnavailable = errors.New("transport unavailable")

// Memory is an in-process channel used in tests and demo runs. Availability
// is toggled externally.
type Memory struct {
	mu        sync.Mutex
	available bool
	sent      []messages.Outbound
}

// NewMemory creates an available in-memory transport
func NewMemory() *Memory {
	return &Memory{available: true}
}

// SetAvailable toggles whether attempts succeed
func (t *Memory) SetAvailable(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available = ok
}

// AttemptSend records the message, or fails when marked unavailable
func (t *Memory) AttemptSend(_ context.Context, msg *messages.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.available {
		return ErrUnavailable
	}
	t.sent = append(t.sent, *msg)
	return nil
}

// Sent returns a copy of every accepted message, oldest first
func (t *Memory) Sent() []messages.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]messages.Outbound, len(t.sent))
	copy(out, t.sent)
	return out
}
