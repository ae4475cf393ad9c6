package reload

import (
	"time"

	"linkreload/internal/cache"
	"linkreload/internal/logging"
	"linkreload/internal/metrics"
	"linkreload/internal/registry"

	"github.com/benbjohnson/clock"
)

const DefaultDebounce = 300 * time.Millisecond

// WatchRegistrar tells the host to emit change events for files under a
// directory. Registering a path twice must be harmless.
type WatchRegistrar interface {
	AddWatchPath(path string) error
}

// WatchReleaser is implemented by registrars that can drop a watch whose
// directory was removed.
type WatchReleaser interface {
	RemoveWatchPath(path string) error
}

// WatchLiveness is implemented by registrars that can tell whether a
// registered directory is still being watched. A directory deleted and
// recreated between rescans has lost its watch even though it exists.
type WatchLiveness interface {
	WatchAlive(path string) bool
}

// EventSource delivers changed file paths in arrival order until the
// returned cancel func is called.
type EventSource interface {
	Subscribe(listener func(path string)) (cancel func())
}

// Notifier sends a payload-free full refresh to every client.
type Notifier interface {
	FullReload()
}

type Options struct {
	Registry *registry.Registry
	WatchDir string
	Debounce time.Duration
	Verbose  bool
	// Rescan, when positive, periodically registers watch targets that did
	// not exist at startup.
	Rescan time.Duration

	Watcher  WatchRegistrar
	Events   EventSource
	Cache    cache.Cache
	Notifier Notifier

	Logger  *logging.Logger
	Metrics *metrics.Registry
	Clock   clock.Clock
}

// Cycle describes one fired reload.
type Cycle struct {
	Package     string    `json:"package"`
	Events      int       `json:"events"`
	Invalidated int       `json:"invalidated"`
	FiredAt     time.Time `json:"fired_at"`
}

// Status is a snapshot for the status API.
type Status struct {
	State     string          `json:"state"`
	WatchDir  string          `json:"watch_dir"`
	Debounce  string          `json:"debounce"`
	Packages  []PackageStatus `json:"packages"`
	LastCycle *Cycle          `json:"last_cycle,omitempty"`
}

type PackageStatus struct {
	Name    string `json:"name"`
	Root    string `json:"root"`
	Target  string `json:"target"`
	Watched bool   `json:"watched"`
	Pending int    `json:"pending"`
}
