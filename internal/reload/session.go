package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"linkreload/internal/cache"
	"linkreload/internal/coalesce"
	"linkreload/internal/logging"
	"linkreload/internal/registry"

	"github.com/benbjohnson/clock"
)

const (
	stateIdle     = "idle"
	stateStarting = "starting"
	stateWatching = "watching"
)

var (
	ErrAlreadyStarted = errors.New("reload session already started")
	ErrClosed         = errors.New("reload session closed")
)

// Session owns the per-key debounce state for one watch session. Its
// coalescer and subscription are released by Close.
type Session struct {
	options   Options
	logger    *logging.Logger
	clock     clock.Clock
	coalescer *coalesce.Coalescer

	mu        sync.Mutex
	state     string
	closed    bool
	watched   map[string]bool
	cancelSub func()
	stopScan  context.CancelFunc
	lastCycle *Cycle

	cycleMu sync.Mutex
}

func New(options Options) (*Session, error) {
	if options.Registry == nil || options.Registry.Len() == 0 {
		return nil, registry.ErrNoPackages
	}
	if options.Watcher == nil {
		return nil, errors.New("watch registrar is required")
	}
	if options.Events == nil {
		return nil, errors.New("event source is required")
	}
	if options.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if options.WatchDir == "" {
		options.WatchDir = registry.DefaultWatchDir
	}
	if options.Debounce == 0 {
		options.Debounce = DefaultDebounce
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	coalescer, err := coalesce.New(options.Debounce, coalesce.WithClock(options.Clock))
	if err != nil {
		return nil, fmt.Errorf("debounce %s: %w", options.Debounce, err)
	}

	return &Session{
		options:   options,
		logger:    logger.With(map[string]string{"component": "reload"}),
		clock:     options.Clock,
		coalescer: coalescer,
		state:     stateIdle,
		watched:   make(map[string]bool),
	}, nil
}

// Start registers existing watch targets and subscribes to change events.
// It may be called once; a registration failure leaves the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = stateStarting
	s.mu.Unlock()

	registered, err := s.registerTargets()
	if err != nil {
		s.mu.Lock()
		s.state = stateIdle
		s.mu.Unlock()
		return err
	}
	if s.options.Verbose {
		s.logger.Info("watching linked packages", map[string]string{
			"packages":  strings.Join(registered, ","),
			"watch_dir": s.options.WatchDir,
		})
	}

	cancel := s.options.Events.Subscribe(s.handleChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.state = stateWatching
	s.cancelSub = cancel
	if s.options.Rescan > 0 {
		scanCtx, stop := context.WithCancel(ctx)
		s.stopScan = stop
		go s.rescanLoop(scanCtx)
	}
	s.mu.Unlock()
	return nil
}

// registerTargets registers every watch target that exists on disk and
// has not been registered yet. It returns the names registered by this call.
func (s *Session) registerTargets() ([]string, error) {
	var registered []string
	for _, pkg := range s.options.Registry.Packages() {
		s.mu.Lock()
		done := s.watched[pkg.Name]
		s.mu.Unlock()
		if done {
			continue
		}

		target := registry.WatchTarget(pkg.Root, s.options.WatchDir)
		info, err := os.Stat(target)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := s.options.Watcher.AddWatchPath(target); err != nil {
			return registered, fmt.Errorf("watch %s: %w", target, err)
		}

		s.mu.Lock()
		s.watched[pkg.Name] = true
		count := len(s.watched)
		s.mu.Unlock()
		s.options.Metrics.SetWatchTargets(count)
		registered = append(registered, pkg.Name)
	}
	return registered, nil
}

func (s *Session) rescanLoop(ctx context.Context) {
	ticker := s.clock.Ticker(s.options.Rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rescan()
		}
	}
}

// releaseMissing forgets watch targets that have been removed from disk or
// whose watch has died, so registerTargets picks the directory up again.
func (s *Session) releaseMissing() []string {
	releaser, _ := s.options.Watcher.(WatchReleaser)
	liveness, _ := s.options.Watcher.(WatchLiveness)
	var released []string
	for _, pkg := range s.options.Registry.Packages() {
		s.mu.Lock()
		done := s.watched[pkg.Name]
		s.mu.Unlock()
		if !done {
			continue
		}
		target := registry.WatchTarget(pkg.Root, s.options.WatchDir)
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			if liveness == nil || liveness.WatchAlive(target) {
				continue
			}
		}
		if releaser != nil {
			if err := releaser.RemoveWatchPath(target); err != nil {
				s.logger.Debug("watch release failed", map[string]string{
					"path":  target,
					"error": err.Error(),
				})
			}
		}

		s.mu.Lock()
		delete(s.watched, pkg.Name)
		count := len(s.watched)
		s.mu.Unlock()
		s.options.Metrics.SetWatchTargets(count)
		released = append(released, pkg.Name)
	}
	return released
}

// Rescan releases watch targets that vanished and registers targets that
// have appeared since the last scan.
func (s *Session) Rescan() {
	if released := s.releaseMissing(); len(released) > 0 && s.options.Verbose {
		s.logger.Info("watch targets removed", map[string]string{
			"packages": strings.Join(released, ","),
		})
	}
	registered, err := s.registerTargets()
	if err != nil {
		s.logger.Warn("watch target registration failed", map[string]string{
			"error": err.Error(),
		})
	}
	if len(registered) > 0 && s.options.Verbose {
		s.logger.Info("watching late packages", map[string]string{
			"packages": strings.Join(registered, ","),
		})
	}
}

func (s *Session) handleChange(path string) {
	info, ok := registry.Resolve(path, s.options.Registry, s.options.WatchDir)
	if !ok {
		s.options.Metrics.IncEventIgnored()
		return
	}
	s.options.Metrics.IncEventResolved()
	s.coalescer.Call(info.Name, func(count int) {
		s.runCycle(info, count)
	})
}

// runCycle invalidates the package and notifies clients. Cycles never
// overlap.
func (s *Session) runCycle(info registry.PackageInfo, count int) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	invalidated := cache.Invalidate(s.options.Cache, info.Name, info.Path)
	s.options.Notifier.FullReload()

	cycle := Cycle{
		Package:     info.Name,
		Events:      count,
		Invalidated: invalidated,
		FiredAt:     s.clock.Now().UTC(),
	}
	s.mu.Lock()
	s.lastCycle = &cycle
	s.mu.Unlock()

	s.options.Metrics.RecordCycle(info.Name, count, invalidated)
	s.options.Metrics.IncNotification()
	if s.options.Verbose {
		s.logger.Info("linked package changed", map[string]string{
			"package":     info.Name,
			"events":      strconv.Itoa(count),
			"invalidated": strconv.Itoa(invalidated),
		})
	}
}

// Watched reports whether a package's watch target has been registered.
func (s *Session) Watched(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[name]
}

func (s *Session) Status() Status {
	s.mu.Lock()
	status := Status{
		State:    s.state,
		WatchDir: s.options.WatchDir,
		Debounce: s.coalescer.Delay().String(),
	}
	if s.lastCycle != nil {
		cycle := *s.lastCycle
		status.LastCycle = &cycle
	}
	watched := make(map[string]bool, len(s.watched))
	for name, ok := range s.watched {
		watched[name] = ok
	}
	s.mu.Unlock()

	for _, pkg := range s.options.Registry.Packages() {
		status.Packages = append(status.Packages, PackageStatus{
			Name:    pkg.Name,
			Root:    pkg.Root,
			Target:  registry.WatchTarget(pkg.Root, s.options.WatchDir),
			Watched: watched[pkg.Name],
			Pending: s.coalescer.Pending(pkg.Name),
		})
	}
	return status
}

// Close cancels the subscription, the rescan loop and every pending timer.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancelSub
	stop := s.stopScan
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		stop()
	}
	s.coalescer.Close()
	return nil
}
