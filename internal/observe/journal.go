package observe

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// journalLine is the on-disk shape of one captured event.
type journalLine struct {
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	At          time.Time `json:"at"`
}

// JournalProducer tails a JSONL journal file and emits one update per
// appended line. Capture tools append to the journal; the producer keeps a
// byte offset so restarts of the scan loop never re-emit old lines.
type JournalProducer struct {
	name     string
	path     string
	interval time.Duration

	q        Queue
	offset   int64
	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJournalProducer creates a journal tailer for the given file path.
func NewJournalProducer(name, path string, interval time.Duration) *JournalProducer {
	if interval <= 0 {
		interval = time.Second
	}
	return &JournalProducer{
		name:     name,
		path:     path,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns the producer name.
func (p *JournalProducer) Name() string { return p.name }

// Poll returns the oldest pending update.
func (p *JournalProducer) Poll() (Update, bool) { return p.q.Poll() }

// Start launches the scan loop. Safe to call once.
func (p *JournalProducer) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *JournalProducer) run(ctx context.Context) {
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			p.scan() // pick up lines written right before shutdown
			return
		case <-t.C:
			p.scan()
		}
	}
}

// scan reads newly appended complete lines and queues them. A partial tail
// line stays unconsumed until the writer finishes it.
func (p *JournalProducer) scan() {
	f, err := os.Open(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("journal: open failed", "path", p.path, "error", err)
		}
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return
	}
	if st.Size() < p.offset {
		// Journal was rotated or truncated; start over.
		p.offset = 0
	}
	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		return
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		p.offset += int64(len(line))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var jl journalLine
		if err := json.Unmarshal([]byte(line), &jl); err != nil {
			slog.Warn("journal: skipping malformed line", "path", p.path, "error", err)
			continue
		}
		kind := ContentType(jl.ContentType)
		if kind == "" {
			kind = ContentText
		}
		p.q.Push(Update{Content: jl.Content, Kind: kind, At: jl.At})
	}
}

// Stop halts the scan loop and seals the queue. Queued updates remain
// pollable until drained.
func (p *JournalProducer) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.q.Close()
	return nil
}
