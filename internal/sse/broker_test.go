package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/ingest"
)

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsubscribe")
	}
}

func TestNoteEvent_IndexUpdatedThrottled(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.NoteEvent(ingest.EventIngested, "a.md")
	b.NoteEvent(ingest.EventRemoved, "b.md")
	b.NoteEvent("note.exploded", "c.md")

	var notes, updates int
	for _, msg := range drain(ch) {
		switch {
		case strings.Contains(msg, "event: "+EventIndexUpdated):
			updates++
		case strings.Contains(msg, `"note_id":"a.md"`), strings.Contains(msg, `"note_id":"b.md"`):
			notes++
		default:
			t.Errorf("unexpected message %q", msg)
		}
	}
	if notes != 2 {
		t.Errorf("note events = %d, want 2", notes)
	}
	if updates != 1 {
		t.Errorf("index.updated events = %d, want 1", updates)
	}
}

func TestRunCompleted(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.RunCompleted(ingest.ModeFull, ingest.Report{Added: 2, Skipped: 1})

	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	if !strings.Contains(msgs[0], "event: "+EventIngestRunDone) || !strings.Contains(msgs[0], `"added":2`) {
		t.Errorf("message = %q", msgs[0])
	}
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.NoteEvent(ingest.EventIngested, "x.md")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, "event: note.ingested") {
		t.Errorf("body = %q", body)
	}
}

func TestFullBufferDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
	if b.ClientCount() != 0 {
		t.Error("expected 0 clients after close")
	}
	b.NoteEvent(ingest.EventIngested, "x.md")
	b.Close()
}
