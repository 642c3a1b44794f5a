package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "ignored"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := d.Delivered(); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	if len(sink.Events()) != 5 {
		t.Fatalf("expected 5 events in sink, got %d", len(sink.Events()))
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	if len(sink.Events()) != 5 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the blocked sink, one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a"})
	deadline := time.Now().Add(time.Second)
	for len(d.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Emit(context.Background(), Event{EventType: "c"})
	d.Emit(context.Background(), Event{EventType: "d"})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}

	close(sink.gate)
	d.Close()
}

type deadlineSink struct {
	deadlines chan bool
}

func (s *deadlineSink) Emit(ctx context.Context, _ Event) {
	_, ok := ctx.Deadline()
	s.deadlines <- ok
}

func TestDispatcherDeliveryTimeout(t *testing.T) {
	for _, tc := range []struct {
		name     string
		timeout  time.Duration
		deadline bool
	}{
		{"bounded", time.Second, true},
		{"unbounded", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sink := &deadlineSink{deadlines: make(chan bool, 1)}
			d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DeliveryTimeout: tc.timeout}, sink)
			d.Emit(context.Background(), Event{EventType: "a"})
			d.Close()

			if got := <-sink.deadlines; got != tc.deadline {
				t.Fatalf("sink context deadline = %v, want %v", got, tc.deadline)
			}
		})
	}
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Emit(ctx, Event{EventType: "c"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking emit did not return after context deadline")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "logout_session", SubjectID: "user-1", Success: true})

	line := strings.TrimSpace(buf.String())
	var decoded Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded.EventType != "logout_session" || decoded.SubjectID != "user-1" || !decoded.Success {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", SubjectID: "user-1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "invalid_credentials"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v, %v", entries[0].Level, entries[1].Level)
	}
	if got := entries[1].ContextMap()["error"]; got != "invalid_credentials" {
		t.Fatalf("expected error field, got %v", got)
	}
}

func TestKafkaSinkPublishesKeyedMessages(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSink(w, nil)

	at := time.Unix(1_700_000_000, 0).UTC()
	sink.Emit(context.Background(), Event{Timestamp: at, EventType: "refresh_reuse_detected", SubjectID: "user-7", FamilyID: "fam-1"})

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "user-7" {
		t.Fatalf("expected subject key, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "refresh_reuse_detected" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded.FamilyID != "fam-1" || !decoded.Timestamp.Equal(at) {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKafkaSinkLogsWriteFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := NewKafkaSink(&recordingWriter{err: errors.New("broker down")}, zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_failure"})

	if logs.Len() != 1 {
		t.Fatalf("expected one error log, got %d", logs.Len())
	}
}
