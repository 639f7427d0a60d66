// Package observe defines the capture producer contract and the update
// shape the pipeline ingests.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ContentType identifies the payload kind of a captured update.
type ContentType string

const (
	// ContentText is captured plain text.
	ContentText ContentType = "input_text"
	// ContentImage is a captured frame encoded as a base64 data URL.
	ContentImage ContentType = "input_image"
)

// ErrBadContentType is returned for updates whose content type is not recognized.
var ErrBadContentType = errors.New("unknown content type")

// ParseContentType validates a raw content type string.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentText, ContentImage:
		return ContentType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadContentType, s)
}

// Update is a single captured event emitted by a producer.
type Update struct {
	Content string      `json:"content"`
	Kind    ContentType `json:"content_type"`
	At      time.Time   `json:"at"`
}

// Producer is implemented by every capture source. Poll never blocks; after
// Stop returns, Poll drains whatever was already queued and then reports
// empty.
type Producer interface {
	// Name identifies the producer; updates carry it through the pipeline.
	Name() string
	// Poll returns the oldest pending update, or false when none is queued.
	Poll() (Update, bool)
	// Stop shuts the capture worker down and seals the queue.
	Stop(ctx context.Context) error
}

// Queue is an unbounded FIFO of updates. Capture workers push, the
// dispatcher drains via Poll. Updates are never dropped while open.
type Queue struct {
	mu     sync.Mutex
	items  []Update
	closed bool
}

// Push appends an update, stamping At when the producer left it zero.
// Pushes after Close are discarded.
func (q *Queue) Push(u Update) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	q.items = append(q.items, u)
}

// Poll removes and returns the oldest queued update.
func (q *Queue) Poll() (Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Update{}, false
	}
	u := q.items[0]
	q.items = q.items[1:]
	return u, true
}

// Len reports the number of queued updates.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close seals the queue against further pushes. Poll keeps draining.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// ChanProducer is an in-process producer fed directly by the host program.
// It doubles as the test twin for the file and Kafka producers.
type ChanProducer struct {
	name string
	q    Queue
}

// NewChanProducer creates an in-process producer with the given name.
func NewChanProducer(name string) *ChanProducer {
	return &ChanProducer{name: name}
}

// Name returns the producer name.
func (p *ChanProducer) Name() string { return p.name }

// Emit queues an update for the dispatcher to pick up.
func (p *ChanProducer) Emit(u Update) { p.q.Push(u) }

// Poll returns the oldest pending update.
func (p *ChanProducer) Poll() (Update, bool) { return p.q.Poll() }

// Pending reports how many updates are queued.
func (p *ChanProducer) Pending() int { return p.q.Len() }

// Stop seals the queue. Queued updates remain pollable.
func (p *ChanProducer) Stop(ctx context.Context) error {
	p.q.Close()
	return nil
}
