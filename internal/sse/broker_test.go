package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/nous/internal/models"
)

// drain returns every frame currently buffered on ch.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
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
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if got := b.ClientCount(); got != 0 {
		t.Fatalf("ClientCount after unsubscribe = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed by Unsubscribe")
	}
}

func TestPublish(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()

	b.Publish(Event{Type: "realm.opened", Data: map[string]string{"root": "/r"}})

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("frames = %q, want 1", got)
	}
	if want := "event: realm.opened\ndata: {\"root\":\"/r\"}\n\n"; got[0] != want {
		t.Errorf("frame = %q, want %q", got[0], want)
	}
}

func TestPublishReindex_FramesAndThrottle(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()

	b.PublishReindex(models.Stats{Generation: 1, Created: 2})
	b.PublishReindex(models.Stats{Generation: 2, Modified: 1})

	var reindexed, graph []string
	for _, f := range drain(ch) {
		if strings.Contains(f, "event: "+TypeGraphUpdated) {
			graph = append(graph, f)
		} else {
			reindexed = append(reindexed, f)
		}
	}
	if len(reindexed) != 2 {
		t.Fatalf("reindex frames = %q, want 2", reindexed)
	}
	if !strings.HasPrefix(reindexed[0], "id: 1\nevent: realm.reindexed\n") || !strings.Contains(reindexed[0], `"created":2`) {
		t.Errorf("first reindex frame = %q", reindexed[0])
	}
	if !strings.HasPrefix(reindexed[1], "id: 2\n") {
		t.Errorf("second reindex frame = %q, want id 2", reindexed[1])
	}
	if len(graph) != 1 || !strings.Contains(graph[0], `"generation":1`) {
		t.Errorf("graph frames = %q, want one for generation 1", graph)
	}
}

func TestSubscribe_ReplaysLatestReindex(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	b.PublishReindex(models.Stats{Generation: 4})
	b.PublishReindex(models.Stats{Generation: 5})

	got := drain(b.Subscribe())
	if len(got) != 1 || !strings.HasPrefix(got[0], "id: 5\nevent: realm.reindexed\n") {
		t.Errorf("replayed frames = %q, want generation 5 only", got)
	}
}

func TestPublish_SlowClientDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer+10; i++ {
			b.Publish(Event{Type: "tick", Data: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client")
	}
	if got := len(drain(ch)); got != clientBuffer {
		t.Errorf("buffered frames = %d, want %d", got, clientBuffer)
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe()

	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel not closed")
	}
	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount after Close = %d, want 0", got)
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Error("Subscribe after Close returned an open channel")
	}
	b.Publish(Event{Type: "tick"})
	b.PublishReindex(models.Stats{Generation: 9})
	b.Unsubscribe(ch)
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	b.keepAlive = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.ClientCount() != 1 {
		t.Fatal("handler did not subscribe")
	}

	b.PublishReindex(models.Stats{Generation: 3})
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"id: 3\nevent: realm.reindexed\n", ": ping\n\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount after disconnect = %d, want 0", got)
	}
}
