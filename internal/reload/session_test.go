package reload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"linkreload/internal/cache"
	"linkreload/internal/logging"
	"linkreload/internal/metrics"
	"linkreload/internal/registry"
	"linkreload/internal/watcher"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	mu      sync.Mutex
	paths   []string
	removed []string
	dead    map[string]bool
	err     error
}

func (r *fakeRegistrar) WatchAlive(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dead[path]
}

func (r *fakeRegistrar) kill(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead == nil {
		r.dead = make(map[string]bool)
	}
	r.dead[path] = true
}

func (r *fakeRegistrar) AddWatchPath(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.paths = append(r.paths, path)
	return nil
}

func (r *fakeRegistrar) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *fakeRegistrar) RemoveWatchPath(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	delete(r.dead, path)
	return nil
}

func (r *fakeRegistrar) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type fakeSource struct {
	mu        sync.Mutex
	listener  func(string)
	cancelled bool
}

func (s *fakeSource) Subscribe(listener func(string)) func() {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}
}

func (s *fakeSource) emit(path string) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	listener(path)
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) FullReload() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type fixture struct {
	root     string
	registry *registry.Registry
	watcher  *fakeRegistrar
	source   *fakeSource
	notifier *countingNotifier
	cache    *cache.ModuleCache
	metrics  *metrics.Registry
	logs     *bytes.Buffer
	logger   *logging.Logger
}

func newFixture(t *testing.T, withDist ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	packages := []registry.Package{
		{Name: "lib", Root: filepath.Join(root, "lib")},
		{Name: "ui", Root: filepath.Join(root, "ui")},
	}
	for _, name := range withDist {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name, "dist"), 0o755))
	}
	reg, err := registry.New(packages)
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	return &fixture{
		root:     root,
		registry: reg,
		watcher:  &fakeRegistrar{},
		source:   &fakeSource{},
		notifier: &countingNotifier{},
		cache:    cache.NewModuleCache(),
		metrics:  &metrics.Registry{},
		logs:     logs,
		logger:   logging.NewLoggerWithOutput(nil, logging.LevelInfo, logs),
	}
}

func (f *fixture) options() Options {
	return Options{
		Registry: f.registry,
		WatchDir: "dist",
		Debounce: 50 * time.Millisecond,
		Watcher:  f.watcher,
		Events:   f.source,
		Cache:    f.cache,
		Notifier: f.notifier,
		Logger:   f.logger,
		Metrics:  f.metrics,
	}
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

func TestSessionEndToEnd(t *testing.T) {
	f := newFixture(t, "lib")
	libRoot := f.path("lib")
	f.cache.Put(cache.Module{Entry: cache.Entry{URL: "/@pkg/lib/a.js", File: f.path("lib", "dist", "a.js")}})
	f.cache.Put(cache.Module{Entry: cache.Entry{URL: "/assets/chunk.js", File: f.path("lib", "dist", "chunk.js")}})
	f.cache.Put(cache.Module{Entry: cache.Entry{URL: "/@pkg/ui/b.js", File: f.path("ui", "dist", "b.js")}})

	options := f.options()
	options.Verbose = true
	session, err := New(options)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	assert.Equal(t, []string{filepath.Join(libRoot, "dist")}, f.watcher.Paths())
	assert.True(t, session.Watched("lib"))
	assert.False(t, session.Watched("ui"))

	f.source.emit(f.path("lib", "dist", "a.js"))
	f.source.emit(f.path("lib", "dist", "b.js"))
	f.source.emit(f.path("lib", "dist", "a.js"))

	require.Eventually(t, func() bool { return f.notifier.Count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.notifier.Count())

	status := session.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, "lib", status.LastCycle.Package)
	assert.Equal(t, 3, status.LastCycle.Events)
	assert.Equal(t, 2, status.LastCycle.Invalidated)
	assert.Equal(t, 1, f.cache.Len())

	snapshot := f.metrics.Snapshot()
	assert.Equal(t, int64(3), snapshot.EventsResolved)
	assert.Equal(t, int64(1), snapshot.Cycles)
	assert.Equal(t, int64(1), snapshot.Notifications)

	logs := f.logs.String()
	assert.Contains(t, logs, `msg="watching linked packages"`)
	assert.Contains(t, logs, `packages="lib"`)
	assert.Contains(t, logs, `events="3" invalidated="2" package="lib"`)
}

func TestSessionIgnoresUnownedPaths(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	f.source.emit("/unrelated/path/file.js")
	f.source.emit(f.path("lib", "src", "index.ts"))
	f.source.emit(f.path("lib", "dist-backup", "a.js"))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, f.notifier.Count())
	assert.Equal(t, 0, session.Status().Packages[0].Pending)
	assert.Equal(t, int64(3), f.metrics.Snapshot().EventsIgnored)
	assert.Empty(t, f.logs.String())
}

func TestSessionRefreshesEvenWhenNothingCached(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	f.source.emit(f.path("lib", "dist", "a.js"))

	require.Eventually(t, func() bool { return f.notifier.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, session.Status().LastCycle.Invalidated)
}

func TestSessionCoalescesPerPackage(t *testing.T) {
	f := newFixture(t, "lib", "ui")
	mock := clock.NewMock()
	options := f.options()
	options.Clock = mock
	options.Debounce = 300 * time.Millisecond
	session, err := New(options)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	for i := 0; i < 3; i++ {
		f.source.emit(f.path("lib", "dist", "a.js"))
		f.source.emit(f.path("ui", "dist", "b.js"))
	}
	f.source.emit(f.path("ui", "dist", "c.js"))
	status := session.Status()
	assert.Equal(t, 3, status.Packages[0].Pending)
	assert.Equal(t, 4, status.Packages[1].Pending)

	mock.Add(300 * time.Millisecond)
	require.Eventually(t, func() bool { return f.notifier.Count() == 2 }, time.Second, 5*time.Millisecond)
	snapshot := f.metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.Cycles)
	assert.Equal(t, int64(7), snapshot.EventsResolved)
}

func TestSessionSkipsMissingTargetsAndRescans(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))
	assert.Len(t, f.watcher.Paths(), 1)

	require.NoError(t, os.MkdirAll(f.path("ui", "dist"), 0o755))
	session.Rescan()
	session.Rescan()

	assert.Equal(t, []string{f.path("lib", "dist"), f.path("ui", "dist")}, f.watcher.Paths())
	assert.True(t, session.Watched("ui"))
	assert.Equal(t, int64(2), f.metrics.Snapshot().WatchTargets)
}

func TestSessionRescanReleasesRemovedTargets(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))
	require.True(t, session.Watched("lib"))

	require.NoError(t, os.RemoveAll(f.path("lib", "dist")))
	session.Rescan()
	assert.False(t, session.Watched("lib"))
	assert.Equal(t, []string{f.path("lib", "dist")}, f.watcher.Removed())
	assert.Equal(t, int64(0), f.metrics.Snapshot().WatchTargets)

	require.NoError(t, os.MkdirAll(f.path("lib", "dist"), 0o755))
	session.Rescan()
	assert.True(t, session.Watched("lib"))
	assert.Equal(t, []string{f.path("lib", "dist"), f.path("lib", "dist")}, f.watcher.Paths())
	assert.Equal(t, int64(1), f.metrics.Snapshot().WatchTargets)
}

func TestSessionRescanReregistersTargetWithLostWatch(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	dist := f.path("lib", "dist")
	f.watcher.kill(dist)
	session.Rescan()

	assert.True(t, session.Watched("lib"))
	assert.Equal(t, []string{dist}, f.watcher.Removed())
	assert.Equal(t, []string{dist, dist}, f.watcher.Paths())
	assert.Equal(t, int64(1), f.metrics.Snapshot().WatchTargets)

	session.Rescan()
	assert.Len(t, f.watcher.Paths(), 2)
}

func TestSessionRecoversFromQuickRebuild(t *testing.T) {
	f := newFixture(t, "lib")
	fsWatcher, err := watcher.New()
	require.NoError(t, err)
	defer fsWatcher.Close()
	hub := watcher.NewEventHub(context.Background(), fsWatcher)
	defer hub.Close()

	options := f.options()
	options.Watcher = hub
	options.Events = hub
	options.Debounce = 20 * time.Millisecond
	session, err := New(options)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))

	dist := f.path("lib", "dist")
	require.NoError(t, os.WriteFile(filepath.Join(dist, "a.js"), []byte("1"), 0o644))
	require.Eventually(t, func() bool { return f.notifier.Count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	// clean build: the directory disappears and returns before any rescan
	require.NoError(t, os.RemoveAll(dist))
	require.Eventually(t, func() bool { return !hub.WatchAlive(dist) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, os.MkdirAll(dist, 0o755))
	assert.True(t, session.Watched("lib"))

	session.Rescan()
	require.True(t, hub.WatchAlive(dist))
	assert.True(t, session.Watched("lib"))

	require.Eventually(t, func() bool { return session.coalescer.Pending("lib") == 0 }, 2*time.Second, 5*time.Millisecond)
	before := f.notifier.Count()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "b.js"), []byte("2"), 0o644))
	require.Eventually(t, func() bool { return f.notifier.Count() > before }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionRescanLoop(t *testing.T) {
	f := newFixture(t)
	mock := clock.NewMock()
	options := f.options()
	options.Clock = mock
	options.Rescan = time.Second
	session, err := New(options)
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))
	assert.Empty(t, f.watcher.Paths())

	require.NoError(t, os.MkdirAll(f.path("lib", "dist"), 0o755))
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return session.Watched("lib")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionTargetThatIsAFileIsSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.path("lib"), 0o755))
	require.NoError(t, os.WriteFile(f.path("lib", "dist"), []byte("not a dir"), 0o644))

	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Start(context.Background()))
	assert.Empty(t, f.watcher.Paths())
}

func TestSessionPropagatesRegistrationErrors(t *testing.T) {
	f := newFixture(t, "lib")
	f.watcher.err = errors.New("inotify limit")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()

	err = session.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "inotify limit"))
	assert.Equal(t, "idle", session.Status().State)
}

func TestSessionStartTwice(t *testing.T) {
	f := newFixture(t, "lib")
	session, err := New(f.options())
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Start(context.Background()))
	assert.ErrorIs(t, session.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, "watching", session.Status().State)
}

func TestSessionCloseCancelsPendingCycle(t *testing.T) {
	f := newFixture(t, "lib")
	mock := clock.NewMock()
	options := f.options()
	options.Clock = mock
	session, err := New(options)
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))

	f.source.emit(f.path("lib", "dist", "a.js"))
	require.NoError(t, session.Close())
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, f.notifier.Count())
	assert.True(t, f.source.cancelled)
	assert.ErrorIs(t, session.Start(context.Background()), ErrClosed)
}

func TestNewValidatesOptions(t *testing.T) {
	f := newFixture(t)

	_, err := New(Options{})
	assert.ErrorIs(t, err, registry.ErrNoPackages)

	options := f.options()
	options.Notifier = nil
	_, err = New(options)
	assert.Error(t, err)

	options = f.options()
	options.Debounce = -time.Millisecond
	_, err = New(options)
	assert.Error(t, err)
}
