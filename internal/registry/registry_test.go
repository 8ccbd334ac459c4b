package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/internal/monitor"
)

type fakeHandle struct {
	id      string
	agent   string
	state   string
	started time.Time
	stopped []string
	mu      sync.Mutex
}

func (f *fakeHandle) CallID() string        { return f.id }
func (f *fakeHandle) AgentID() string       { return f.agent }
func (f *fakeHandle) State() string         { return f.state }
func (f *fakeHandle) StartedAt() time.Time  { return f.started }
func (f *fakeHandle) Stop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, reason)
}

func TestRegisterLookupDeregister(t *testing.T) {
	r := New()
	h := &fakeHandle{id: "call-1", agent: "support", state: "listening"}
	r.Register(h)

	got, err := r.Lookup("call-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.CallID() != "call-1" {
		t.Fatalf("Lookup() returned %q", got.CallID())
	}

	r.Deregister("call-1")
	if _, err := r.Lookup("call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() after Deregister = %v, want ErrNotFound", err)
	}
}

func TestLookupUnknownIsNotFound(t *testing.T) {
	r := New()
	if _, err := r.Lookup("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() = %v, want ErrNotFound", err)
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	r := New()
	ch, cancel := r.Subscribe("call-1")
	defer cancel()

	r.Publish(monitor.BargeIn("call-1"))

	select {
	case evt := <-ch:
		if evt.Type != monitor.TypeBargeIn {
			t.Fatalf("event type = %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive the event")
	}
}

func TestDeregisterDetachesSubscribers(t *testing.T) {
	r := New()
	r.Register(&fakeHandle{id: "call-1"})
	ch, cancel := r.Subscribe("call-1")
	defer cancel()

	r.Deregister("call-1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got a live event")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber channel was not closed on deregister")
	}

	// Publishing to the dead id must be a no-op, not a panic on a closed
	// channel.
	r.Publish(monitor.BargeIn("call-1"))
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	r := New()
	_, cancel := r.Subscribe("call-1")
	cancel()
	cancel()
}

func TestRebindKeepsSubscribers(t *testing.T) {
	r := New()
	h := &fakeHandle{id: "old"}
	r.Register(h)
	ch, cancel := r.Subscribe("old")
	defer cancel()

	h.id = "new"
	r.Rebind("old", "new", h)

	if _, err := r.Lookup("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old id still registered after rebind")
	}
	if _, err := r.Lookup("new"); err != nil {
		t.Fatalf("new id not registered after rebind: %v", err)
	}

	r.Publish(monitor.CallState("new", "listening"))
	select {
	case evt := <-ch:
		if evt.CallID != "new" {
			t.Fatalf("event call id = %q", evt.CallID)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber lost across rebind")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	r := New()
	_, cancel := r.Subscribe("call-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			r.Publish(monitor.CallState("call-1", "speaking"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber buffer")
	}
}

func TestStopAll(t *testing.T) {
	r := New()
	h1 := &fakeHandle{id: "a"}
	h2 := &fakeHandle{id: "b"}
	r.Register(h1)
	r.Register(h2)

	r.StopAll("server_shutdown")
	for _, h := range []*fakeHandle{h1, h2} {
		h.mu.Lock()
		n := len(h.stopped)
		h.mu.Unlock()
		if n != 1 {
			t.Fatalf("handle %s stopped %d times, want 1", h.id, n)
		}
	}
}
