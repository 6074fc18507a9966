package events

import (
	"sync"

	"github.com/dlforge/xfer/internal/store"
)

// GroupCallback receives every update for tasks in the group it was
// registered for via OnGroup. It takes precedence over the broadcast
// channel for that group (spec.md §4.6).
type GroupCallback func(TaskUpdate)

// Bus fans status and progress updates out to a broadcast channel and to
// per-group callbacks, also buffering in the persistent store every event
// of a group that has no callback registered.
//
// Grounded on the teacher's buffered worker-error channel idiom
// (concurrent.go's `make(chan error, numConns)`) generalized into a single
// process-wide broadcast channel, plus a callback map guarded by a mutex in
// place of the teacher's ad hoc per-download state maps.
type Bus struct {
	mu        sync.RWMutex
	callbacks map[string]GroupCallback
	broadcast chan TaskUpdate
	tracked   map[string]bool
	store     *store.Store
}

// NewBus creates a Bus backed by st for undelivered-event persistence. The
// broadcast channel is buffered so a slow or absent consumer does not block
// emitting goroutines; bufferSize should be sized to the expected event
// burst (callers with no consumer at all should prefer buffering into the
// store and replaying it via DrainUndelivered rather than relying on
// channel buffering alone).
func NewBus(st *store.Store, bufferSize int) *Bus {
	return &Bus{
		callbacks: make(map[string]GroupCallback),
		broadcast: make(chan TaskUpdate, bufferSize),
		tracked:   make(map[string]bool),
		store:     st,
	}
}

// Broadcast returns the channel updates are published on for groups with no
// per-group callback; an update delivered to a callback is not sent here.
func (b *Bus) Broadcast() <-chan TaskUpdate {
	return b.broadcast
}

// OnGroup registers cb as the callback of record for group, taking
// precedence over the broadcast channel for that group's events. Passing a
// nil cb removes any existing registration.
func (b *Bus) OnGroup(group string, cb GroupCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb == nil {
		delete(b.callbacks, group)
		return
	}
	b.callbacks[group] = cb
}

// TrackGroup marks group as tracked: its task records survive in the store
// past task completion, and its events are persisted even when undelivered
// (spec.md §4.5, §4.6).
func (b *Bus) TrackGroup(group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked[group] = true
}

// IsTracked reports whether group was previously marked via TrackGroup.
func (b *Bus) IsTracked(group string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracked[group]
}

// PublishStatus delivers a status update: to the group's callback if one is
// registered, otherwise onto the broadcast channel (non-blocking best
// effort) and also buffered in the store, whether or not the broadcast send
// went through, so a future listener can catch up.
func (b *Bus) PublishStatus(u *TaskStatusUpdate) {
	b.publish(u, u.Task.Group, func() error { return b.store.BufferStatusUpdate(u) })
}

// PublishProgress is the progress-update analogue of PublishStatus.
func (b *Bus) PublishProgress(u *TaskProgressUpdate) {
	b.publish(u, u.Task.Group, func() error { return b.store.BufferProgressUpdate(u) })
}

func (b *Bus) publish(u TaskUpdate, group string, buffer func() error) {
	b.mu.RLock()
	cb, hasCallback := b.callbacks[group]
	b.mu.RUnlock()

	if hasCallback {
		cb(u)
		return
	}

	select {
	case b.broadcast <- u:
	default:
	}

	if b.store != nil {
		_ = buffer()
	}
}

// DrainUndelivered replays every buffered status and progress update to the
// bus's current listeners, then clears the buffers. Call once at engine
// startup, after callbacks/tracking for any previously tracked groups have
// been re-registered (spec.md §4.6: "On next engine start, these are
// drained to the current listener and cleared").
func (b *Bus) DrainUndelivered() error {
	if b.store == nil {
		return nil
	}

	if err := b.store.DrainStatusUpdates(func(data []byte) error {
		var u TaskStatusUpdate
		if err := u.UnmarshalJSON(data); err != nil {
			return err
		}
		b.deliverOnly(&u, u.Task.Group)
		return nil
	}); err != nil {
		return err
	}

	return b.store.DrainProgressUpdates(func(data []byte) error {
		var u TaskProgressUpdate
		if err := u.UnmarshalJSON(data); err != nil {
			return err
		}
		b.deliverOnly(&u, u.Task.Group)
		return nil
	})
}

// deliverOnly delivers u without re-buffering on a miss, used while draining
// so a still-unreachable event is simply dropped rather than rewritten.
func (b *Bus) deliverOnly(u TaskUpdate, group string) {
	b.mu.RLock()
	cb, hasCallback := b.callbacks[group]
	b.mu.RUnlock()

	if hasCallback {
		cb(u)
		return
	}

	select {
	case b.broadcast <- u:
	default:
	}
}
