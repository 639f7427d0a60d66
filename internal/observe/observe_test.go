package observe

import (
	"context"
	"testing"
	"time"
)

func TestParseContentType(t *testing.T) {
	if _, err := ParseContentType("input_text"); err != nil {
		t.Fatalf("input_text should parse: %v", err)
	}
	if _, err := ParseContentType("input_image"); err != nil {
		t.Fatalf("input_image should parse: %v", err)
	}
	if _, err := ParseContentType("input_audio"); err == nil {
		t.Fatal("expected error for unknown content type")
	}
}

func TestQueueOrderAndStamping(t *testing.T) {
	var q Queue
	q.Push(Update{Content: "a", Kind: ContentText})
	q.Push(Update{Content: "b", Kind: ContentText})
	q.Push(Update{Content: "c", Kind: ContentText})

	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3 queued, got %d", got)
	}
	for _, want := range []string{"a", "b", "c"} {
		u, ok := q.Poll()
		if !ok {
			t.Fatalf("expected update %q", want)
		}
		if u.Content != want {
			t.Errorf("expected %q, got %q", want, u.Content)
		}
		if u.At.IsZero() {
			t.Errorf("update %q missing timestamp stamp", want)
		}
	}
	if _, ok := q.Poll(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueueCloseSealsPushes(t *testing.T) {
	var q Queue
	q.Push(Update{Content: "kept", Kind: ContentText})
	q.Close()
	q.Push(Update{Content: "dropped", Kind: ContentText})

	u, ok := q.Poll()
	if !ok || u.Content != "kept" {
		t.Fatalf("expected queued update to survive close, got %+v ok=%v", u, ok)
	}
	if _, ok := q.Poll(); ok {
		t.Fatal("push after close should be discarded")
	}
}

func TestChanProducerDrainAfterStop(t *testing.T) {
	p := NewChanProducer("test")
	p.Emit(Update{Content: "one", Kind: ContentText})
	p.Emit(Update{Content: "two", Kind: ContentText})

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	u, ok := p.Poll()
	if !ok || u.Content != "one" {
		t.Fatalf("expected first queued update after stop, got %+v ok=%v", u, ok)
	}
	u, ok = p.Poll()
	if !ok || u.Content != "two" {
		t.Fatalf("expected second queued update after stop, got %+v ok=%v", u, ok)
	}
	if _, ok := p.Poll(); ok {
		t.Fatal("expected drained queue")
	}
}

func TestUpdateFromKafka(t *testing.T) {
	brokerTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	u := updateFromKafka([]byte(`{"content":"typed on keyboard","content_type":"input_text","at":"2025-06-01T10:00:00Z"}`), brokerTime)
	if u.Content != "typed on keyboard" || u.Kind != ContentText {
		t.Fatalf("unexpected decoded update: %+v", u)
	}
	if !u.At.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected declared timestamp, got %v", u.At)
	}

	u = updateFromKafka([]byte(`{"content":"no type given"}`), brokerTime)
	if u.Kind != ContentText {
		t.Fatalf("expected text default, got %q", u.Kind)
	}
	if !u.At.Equal(brokerTime) {
		t.Fatalf("expected broker time fallback, got %v", u.At)
	}

	u = updateFromKafka([]byte("just a raw string"), brokerTime)
	if u.Content != "just a raw string" || u.Kind != ContentText {
		t.Fatalf("unexpected raw decode: %+v", u)
	}
}
