package watcher

import (
	"sync"
	"time"

	"linkreload/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const EventTypeFileChanged = "file_changed"

// Event represents a single filesystem change.
type Event struct {
	EventType  string
	Path       string
	Op         fsnotify.Op
	OccurredAt time.Time
}

func (e Event) Type() string {
	return e.EventType
}

func (e Event) Timestamp() time.Time {
	return e.OccurredAt
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events under a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger       *logging.Logger
	MaxWatches   int
	ErrorHandler func(error)
	// Flat disables descending into subdirectories of a watched directory.
	Flat bool
}

// Metrics reports watcher counters.
type Metrics struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	Errors          uint64 `json:"errors"`
	RestartAttempts int    `json:"restart_attempts"`
}

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher    *fsnotify.Watcher
	mutex      sync.Mutex
	callbacks  map[string][]callbackEntry
	watched    map[string]int
	events     chan fsnotify.Event
	errors     chan error
	done       chan struct{}
	closed     bool
	logger     *logging.Logger
	recursive  bool
	maxWatches int
	nextID     uint64

	errorHandler    func(error)
	eventsDelivered uint64
	errorCount      uint64

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
}
