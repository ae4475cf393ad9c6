package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"linkreload/internal/event"
)

// EventHub adapts a Watch into the two contracts the reload session
// consumes: an idempotent watch registration sink and an ordered change
// event source.
type EventHub struct {
	watcher   Watch
	mutex     sync.Mutex
	watches   map[string]Handle
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	bus       *event.Bus[Event]
}

// NewEventHub creates an EventHub tied to the provided context.
func NewEventHub(ctx context.Context, watcher Watch) *EventHub {
	if ctx == nil {
		ctx = context.Background()
	}
	derived, cancel := context.WithCancel(ctx)
	hub := &EventHub{
		watcher: watcher,
		watches: make(map[string]Handle),
		ctx:     derived,
		cancel:  cancel,
		bus: event.NewBus[Event](derived, event.BusOptions{
			Name:        "watcher_events",
			BlockOnFull: true,
		}),
	}
	go func() {
		<-derived.Done()
		_ = hub.Close()
	}()
	return hub
}

// AddWatchPath starts publishing change events for files under path.
// Registering the same path again is a no-op.
func (hub *EventHub) AddWatchPath(path string) error {
	if hub == nil {
		return errors.New("event hub is nil")
	}
	if hub.watcher == nil {
		return errors.New("watcher is nil")
	}
	if path == "" {
		return errors.New("path is required")
	}
	path = filepath.Clean(path)

	hub.mutex.Lock()
	if _, ok := hub.watches[path]; ok {
		hub.mutex.Unlock()
		return nil
	}
	hub.watches[path] = nil
	hub.mutex.Unlock()

	handle, err := hub.watcher.Watch(path, hub.Publish)
	if err != nil {
		hub.mutex.Lock()
		delete(hub.watches, path)
		hub.mutex.Unlock()
		return err
	}

	hub.mutex.Lock()
	if _, ok := hub.watches[path]; !ok {
		// closed while registering
		hub.mutex.Unlock()
		return handle.Close()
	}
	hub.watches[path] = handle
	hub.mutex.Unlock()
	return nil
}

// RemoveWatchPath stops watching a path.
func (hub *EventHub) RemoveWatchPath(path string) error {
	if hub == nil || path == "" {
		return nil
	}
	path = filepath.Clean(path)

	hub.mutex.Lock()
	handle := hub.watches[path]
	delete(hub.watches, path)
	hub.mutex.Unlock()

	if handle == nil {
		return nil
	}
	return handle.Close()
}

// WatchAlive reports whether path is registered and its watch survives.
// A registered directory that was deleted reports false until it is
// removed and registered again.
func (hub *EventHub) WatchAlive(path string) bool {
	if hub == nil || path == "" {
		return false
	}
	path = filepath.Clean(path)
	hub.mutex.Lock()
	handle, ok := hub.watches[path]
	hub.mutex.Unlock()
	if !ok || handle == nil {
		return false
	}
	if liveness, ok := hub.watcher.(interface{ Watching(string) bool }); ok {
		return liveness.Watching(path)
	}
	return true
}

// WatchedPaths lists registered paths in lexical order.
func (hub *EventHub) WatchedPaths() []string {
	if hub == nil {
		return nil
	}
	hub.mutex.Lock()
	paths := make([]string, 0, len(hub.watches))
	for path := range hub.watches {
		paths = append(paths, path)
	}
	hub.mutex.Unlock()
	sort.Strings(paths)
	return paths
}

// Subscribe delivers the path of every change event to listener, one at a
// time and in arrival order. The returned func cancels the subscription.
func (hub *EventHub) Subscribe(listener func(path string)) func() {
	if hub == nil || hub.bus == nil || listener == nil {
		return func() {}
	}
	events, cancel := hub.bus.SubscribeType(EventTypeFileChanged)
	go func() {
		for event := range events {
			listener(event.Path)
		}
	}()
	return cancel
}

// Publish broadcasts an event to subscribers.
func (hub *EventHub) Publish(event Event) {
	if hub == nil || hub.bus == nil {
		return
	}
	if event.EventType == "" {
		event.EventType = EventTypeFileChanged
	}
	hub.bus.Publish(event)
}

// SubscriberCount reports the number of active subscriptions.
func (hub *EventHub) SubscriberCount() int {
	if hub == nil {
		return 0
	}
	return hub.bus.SubscriberCount()
}

// Close shuts down the hub and releases watcher registrations.
func (hub *EventHub) Close() error {
	if hub == nil {
		return nil
	}

	var closeErr error
	hub.closeOnce.Do(func() {
		hub.cancel()
		hub.bus.Close()

		hub.mutex.Lock()
		watches := hub.watches
		hub.watches = make(map[string]Handle)
		hub.mutex.Unlock()

		for _, handle := range watches {
			if handle == nil {
				continue
			}
			if err := handle.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}
