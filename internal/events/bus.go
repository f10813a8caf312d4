package events

import (
	"errors"
	"sync"
	"time"
)

// Record types with special meaning to subscribers.
const (
	TypeWorkflowStart    = "workflow_start"
	TypeWorkflowComplete = "workflow_complete"
	TypeError            = "error"
	TypeHeartbeat        = "heartbeat"
)

// ErrChannelNotFound is returned by Subscribe when no channel exists for the
// job, either because it was never created or already cleaned up.
var ErrChannelNotFound = errors.New("event channel not found")

// Record is one progress event published for a job.
type Record struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Terminal reports whether this record ends the stream: after delivering it,
// a subscriber stops waiting for more.
func (r Record) Terminal() bool {
	return r.Type == TypeWorkflowComplete || r.Type == TypeError
}

// channel is the per-job ordered buffer. Records are only ever appended, so a
// subscriber can keep a plain index cursor into buf.
type channel struct {
	mu      sync.Mutex
	buf     []Record
	removed bool
	wake    chan struct{}
}

func (c *channel) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Bus holds one ordered record queue per in-flight job. Contention is limited
// to the channel map itself; per-job data is only touched by that job's
// publisher and subscriber.
type Bus struct {
	mu    sync.RWMutex
	chans map[string]*channel
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{chans: make(map[string]*channel)}
}

// CreateChannel creates an empty queue for the job. Calling it again for the
// same job is a no-op.
func (b *Bus) CreateChannel(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.chans[jobID]; ok {
		return
	}
	b.chans[jobID] = &channel{wake: make(chan struct{})}
}

// Publish appends a timestamped record to the job's queue. If no channel
// exists (not yet created, or already cleaned up) the call silently does
// nothing: a job must never fail because nobody is listening.
func (b *Bus) Publish(jobID, recordType string, data map[string]any) {
	b.mu.RLock()
	ch, ok := b.chans[jobID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return
	}
	ch.buf = append(ch.buf, Record{Type: recordType, Data: data, Timestamp: time.Now()})
	ch.broadcastLocked()
}

// Subscribe attaches a single consumer to the job's queue, starting from the
// first buffered record.
func (b *Bus) Subscribe(jobID string) (*Subscription, error) {
	b.mu.RLock()
	ch, ok := b.chans[jobID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrChannelNotFound
	}
	return &Subscription{ch: ch}, nil
}

// Cleanup deletes the job's channel. Records already buffered stay readable
// by an in-flight subscriber until drained; after that the subscriber sees
// end-of-stream. Any later publish is a no-op.
func (b *Bus) Cleanup(jobID string) {
	b.mu.Lock()
	ch, ok := b.chans[jobID]
	delete(b.chans, jobID)
	b.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	ch.removed = true
	ch.broadcastLocked()
	ch.mu.Unlock()
}

// Subscription is a cursor over one job's records, delivered in publish
// order.
type Subscription struct {
	ch  *channel
	pos int
}

// Next returns the next record. If nothing arrives within heartbeatAfter it
// returns a synthetic heartbeat record instead of blocking indefinitely, so a
// long-lived push connection stays alive. ok is false once the channel is
// cleaned up and all buffered records have been drained.
func (s *Subscription) Next(heartbeatAfter time.Duration) (Record, bool) {
	deadline := time.NewTimer(heartbeatAfter)
	defer deadline.Stop()

	for {
		s.ch.mu.Lock()
		if s.pos < len(s.ch.buf) {
			rec := s.ch.buf[s.pos]
			s.pos++
			s.ch.mu.Unlock()
			return rec, true
		}
		if s.ch.removed {
			s.ch.mu.Unlock()
			return Record{}, false
		}
		wake := s.ch.wake
		s.ch.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return Record{Type: TypeHeartbeat, Timestamp: time.Now()}, true
		}
	}
}
