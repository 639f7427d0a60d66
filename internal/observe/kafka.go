package observe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer feeds updates from a Kafka topic into the pipeline using
// segmentio/kafka-go. Message values are either the journal JSON shape or
// raw text.
type KafkaProducer struct {
	name    string
	topic   string
	reader  *kafka.Reader
	q       Queue
	started atomic.Bool
	done    chan struct{}
}

// NewKafkaProducer creates a consumer for the given topic. Brokers is a
// comma-separated list.
func NewKafkaProducer(name, brokers, groupID, topic string) *KafkaProducer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaProducer{
		name:   name,
		topic:  topic,
		reader: reader,
		done:   make(chan struct{}),
	}
}

// Name returns the producer name.
func (p *KafkaProducer) Name() string { return p.name }

// Poll returns the oldest pending update.
func (p *KafkaProducer) Poll() (Update, bool) { return p.q.Poll() }

// Start launches the read loop. Safe to call once.
func (p *KafkaProducer) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)
		for {
			msg, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				slog.Warn("kafka: read error", "topic", p.topic, "error", err)
				continue
			}
			p.q.Push(updateFromKafka(msg.Value, msg.Time))
		}
	}()
}

// updateFromKafka decodes a message value. JSON payloads in the journal
// shape keep their declared type and timestamp, anything else is taken as
// plain text stamped with the broker time.
func updateFromKafka(value []byte, at time.Time) Update {
	var jl journalLine
	if err := json.Unmarshal(value, &jl); err == nil && strings.TrimSpace(jl.Content) != "" {
		u := Update{Content: jl.Content, Kind: ContentType(jl.ContentType), At: jl.At}
		if u.Kind == "" {
			u.Kind = ContentText
		}
		if u.At.IsZero() {
			u.At = at
		}
		return u
	}
	return Update{Content: string(value), Kind: ContentText, At: at}
}

// Stop closes the reader, waits for the read loop, and seals the queue.
func (p *KafkaProducer) Stop(ctx context.Context) error {
	err := p.reader.Close()
	if p.started.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.q.Close()
			return ctx.Err()
		}
	}
	p.q.Close()
	return err
}
