package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mattjoyce/busdispatch/internal/metrics"
)

// ChannelRegistry tracks every open dispatch channel, keyed by run and unit.
// Run IDs namespace the keys so concurrent dispatches never share a channel.
type ChannelRegistry struct {
	mu    sync.Mutex
	chans map[string]*channel
	runs  map[string]struct{}
}

// NewChannelRegistry creates an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		chans: make(map[string]*channel),
		runs:  make(map[string]struct{}),
	}
}

// claim reserves runID for one dispatch. A run ID that is in flight, still
// has open channels or contains the key separator is rejected.
func (r *ChannelRegistry) claim(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: run id is empty", ErrInvalidRequest)
	}
	if strings.Contains(runID, "/") {
		return fmt.Errorf("%w: run id %q contains '/'", ErrInvalidRequest, runID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.runs[runID]; busy || r.lenRunLocked(runID) > 0 {
		return fmt.Errorf("%w: run id %q already in use", ErrInvalidRequest, runID)
	}
	r.runs[runID] = struct{}{}
	return nil
}

func (r *ChannelRegistry) unclaim(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Open allocates the channel for one unit of a run and returns both ends.
func (r *ChannelRegistry) Open(runID string, unitID int) (*Sender, *Receiver, error) {
	if runID == "" {
		return nil, nil, fmt.Errorf("open channel: run id is empty")
	}
	key := channelKey(runID, unitID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chans[key]; exists {
		return nil, nil, fmt.Errorf("open channel %s: already open", key)
	}

	ch := &channel{
		key:      key,
		registry: r,
		payload:  make(chan int, 1),
		notified: make(chan struct{}),
	}
	r.chans[key] = ch
	metrics.OpenChannels.Inc()

	return &Sender{ch: ch}, &Receiver{ch: ch}, nil
}

// Len returns the number of channels currently open across all runs.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}

// LenRun returns the number of channels still open for one run.
func (r *ChannelRegistry) LenRun(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenRunLocked(runID)
}

func (r *ChannelRegistry) lenRunLocked(runID string) int {
	prefix := runID + "/"
	n := 0
	for key := range r.chans {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (r *ChannelRegistry) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chans[key]; ok {
		delete(r.chans, key)
		metrics.OpenChannels.Dec()
	}
}

func channelKey(runID string, unitID int) string {
	return fmt.Sprintf("%s/%d", runID, unitID)
}

// channel is a one-shot integer handoff plus a separate completion signal.
// The payload slot is buffered so a sender never waits on its receiver.
type channel struct {
	key      string
	registry *ChannelRegistry

	payload  chan int
	notified chan struct{}

	mu         sync.Mutex
	sent       bool
	sendClosed bool
	didNotify  bool
	received   bool
	recvClosed bool
}

func (c *channel) closeReceiver() bool {
	c.mu.Lock()
	if c.recvClosed {
		c.mu.Unlock()
		return false
	}
	c.recvClosed = true
	c.mu.Unlock()

	c.registry.remove(c.key)
	return true
}

// Sender is the unit-owned write end of a dispatch channel.
type Sender struct {
	ch *channel
}

// Key identifies the channel as "<run>/<unit>".
func (s *Sender) Key() string { return s.ch.key }

// Send writes the single payload value. A second send, or a send after
// Close, fails with ErrChannelClosed. A send after the receiver has been
// released fails with ErrPeerGone.
func (s *Sender) Send(v int) error {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sent || c.sendClosed {
		return fmt.Errorf("send on %s: %w", c.key, ErrChannelClosed)
	}
	if c.recvClosed {
		return fmt.Errorf("send on %s: %w", c.key, ErrPeerGone)
	}
	c.payload <- v
	c.sent = true
	return nil
}

// Close closes the write end. A receiver that has not yet read sees the
// buffered value if one was sent, otherwise ErrPeerGone.
func (s *Sender) Close() error {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return fmt.Errorf("close sender %s: %w", c.key, ErrChannelClosed)
	}
	c.sendClosed = true
	close(c.payload)
	return nil
}

// Notify raises the completion notification. It may be raised once.
func (s *Sender) Notify() error {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.didNotify {
		return fmt.Errorf("notify on %s: %w", c.key, ErrChannelClosed)
	}
	c.didNotify = true
	close(c.notified)
	return nil
}

// Receiver is the coordinator-owned read end of a dispatch channel.
type Receiver struct {
	ch *channel
}

// Key identifies the channel as "<run>/<unit>".
func (r *Receiver) Key() string { return r.ch.key }

// Notified is closed once the sender raises its completion notification.
func (r *Receiver) Notified() <-chan struct{} { return r.ch.notified }

// Receive blocks until the payload is available, the sender closes without
// a value (ErrPeerGone), or ctx ends. Only the first call may read; later
// calls and calls after Close fail with ErrChannelClosed.
func (r *Receiver) Receive(ctx context.Context) (int, error) {
	c := r.ch
	c.mu.Lock()
	if c.received || c.recvClosed {
		c.mu.Unlock()
		return 0, fmt.Errorf("receive on %s: %w", c.key, ErrChannelClosed)
	}
	c.received = true
	c.mu.Unlock()

	select {
	case v, ok := <-c.payload:
		if !ok {
			return 0, fmt.Errorf("receive on %s: %w", c.key, ErrPeerGone)
		}
		return v, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("receive on %s: %w", c.key, ctx.Err())
	}
}

// release closes the read end if it is still open and reports whether it
// did. Senders on a released channel get ErrPeerGone instead of blocking.
func (r *Receiver) release() bool { return r.ch.closeReceiver() }

// Close closes the read end and releases the channel from its registry.
func (r *Receiver) Close() error {
	if !r.ch.closeReceiver() {
		return fmt.Errorf("close receiver %s: %w", r.ch.key, ErrChannelClosed)
	}
	return nil
}
