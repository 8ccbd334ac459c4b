package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/monitor"
)

var ErrNotFound = errors.New("call not found")

// Handle is the registry's view of a running call. The conversation engine
// implements it; listen-only sessions may provide a thinner one.
type Handle interface {
	CallID() string
	AgentID() string
	State() string
	StartedAt() time.Time
	Stop(reason string)
}

// CallInfo is a point-in-time snapshot safe to serialize.
type CallInfo struct {
	CallID    string    `json:"call_id"`
	AgentID   string    `json:"agent_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// subscriberBuffer bounds each monitor feed; a slow supervisor drops events
// rather than stalling the call path.
const subscriberBuffer = 256

// Registry maps call identifiers to running calls and fans monitor events
// out to per-call subscribers. All operations are safe for concurrent use;
// no call ever blocks on another call's state.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]Handle
	subs  map[string]map[int]chan monitor.Event
	nextS int
}

func New() *Registry {
	return &Registry{
		calls: make(map[string]Handle),
		subs:  make(map[string]map[int]chan monitor.Event),
	}
}

// Register binds a call id to a handle. Re-registering an id replaces the
// previous handle but keeps existing subscribers attached: a second
// handshake updates identity without orphaning listeners.
func (r *Registry) Register(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[h.CallID()] = h
}

// Lookup returns the handle for a call id. A miss is an expected race, not
// an error condition worth panicking over.
func (r *Registry) Lookup(callID string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

// Deregister removes the call and detaches all of its subscribers, closing
// their channels so stale listeners stop immediately.
func (r *Registry) Deregister(callID string) {
	r.mu.Lock()
	delete(r.calls, callID)
	subs := r.subs[callID]
	delete(r.subs, callID)
	r.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Rebind moves subscribers from one call id to another. Used when a second
// handshake changes a session's identity mid-call.
func (r *Registry) Rebind(oldID, newID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, oldID)
	r.calls[newID] = h
	if subs, ok := r.subs[oldID]; ok {
		delete(r.subs, oldID)
		existing := r.subs[newID]
		if existing == nil {
			r.subs[newID] = subs
		} else {
			for id, ch := range subs {
				existing[id] = ch
			}
		}
	}
}

// Subscribe attaches a monitor feed to a call. The returned cancel func is
// idempotent. Subscribing to an unknown call is allowed: the subscriber may
// be racing the handshake.
func (r *Registry) Subscribe(callID string) (<-chan monitor.Event, func()) {
	ch := make(chan monitor.Event, subscriberBuffer)

	r.mu.Lock()
	r.nextS++
	id := r.nextS
	if r.subs[callID] == nil {
		r.subs[callID] = make(map[int]chan monitor.Event)
	}
	r.subs[callID][id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if subs, ok := r.subs[callID]; ok {
				if _, live := subs[id]; live {
					delete(subs, id)
					if len(subs) == 0 {
						delete(r.subs, callID)
					}
					r.mu.Unlock()
					close(ch)
					return
				}
			}
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the call, dropping it for
// subscribers whose buffers are full.
func (r *Registry) Publish(evt monitor.Event) {
	r.mu.RLock()
	subs := r.subs[evt.CallID]
	chans := make([]chan monitor.Event, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
}

// List snapshots all active calls.
func (r *Registry) List() []CallInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallInfo, 0, len(r.calls))
	for _, h := range r.calls {
		out = append(out, CallInfo{
			CallID:    h.CallID(),
			AgentID:   h.AgentID(),
			State:     h.State(),
			StartedAt: h.StartedAt(),
		})
	}
	return out
}

// Count reports the number of active calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// StopAll asks every registered call to stop; used during shutdown.
func (r *Registry) StopAll(reason string) {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.calls))
	for _, h := range r.calls {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Stop(reason)
	}
}
