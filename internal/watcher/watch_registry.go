package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers a callback for events on path. Directories are watched
// recursively unless the watcher was created with Options.Flat; directories
// created later under path are picked up as they appear.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	needsAdd := len(watcher.callbacks[path]) == 0
	watcher.nextID++
	entry := callbackEntry{id: watcher.nextID, callback: callback}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	watcher.mutex.Unlock()

	if needsAdd {
		if err := watcher.addTree(path); err != nil {
			watcher.dropCallback(path, entry.id)
			watcher.releaseTree(path)
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
	}
	return &watchHandle{watcher: watcher, path: path, id: entry.id}, nil
}

// addTree registers root and, when recursive, every directory below it.
func (watcher *Watcher) addTree(root string) error {
	paths := []string{root}
	if watcher.recursive {
		paths = collectDirs(root)
	}
	for _, path := range paths {
		if err := watcher.addPath(path); err != nil {
			return err
		}
	}
	return nil
}

func collectDirs(root string) []string {
	dirs := []string{root}
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		if entry.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func (watcher *Watcher) addPath(path string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	count := watcher.watched[path]
	if count == 0 && len(watcher.watched) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	watcher.watched[path] = count + 1
	source := watcher.watcher
	active := len(watcher.watched)
	watcher.mutex.Unlock()

	if count > 0 || source == nil {
		return nil
	}
	if err := source.Add(path); err != nil {
		watcher.mutex.Lock()
		if watcher.watched[path] <= 1 {
			delete(watcher.watched, path)
		} else {
			watcher.watched[path]--
		}
		watcher.mutex.Unlock()
		return err
	}
	watcher.logDebug("watch added", path, active)
	return nil
}

// releaseTree drops one reference from every watched path under root.
func (watcher *Watcher) releaseTree(root string) {
	watcher.mutex.Lock()
	var remove []string
	for path, count := range watcher.watched {
		if !isWithinPath(root, path) {
			continue
		}
		if count <= 1 {
			delete(watcher.watched, path)
			remove = append(remove, path)
			continue
		}
		watcher.watched[path] = count - 1
	}
	source := watcher.watcher
	active := len(watcher.watched)
	watcher.mutex.Unlock()

	if source == nil {
		return
	}
	for _, path := range remove {
		if err := source.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			watcher.logWarn("watch remove failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		watcher.logDebug("watch removed", path, active)
	}
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	if watcher.dropCallback(path, id) {
		watcher.releaseTree(path)
	}
	return nil
}

// dropCallback removes a callback and reports whether path has none left.
func (watcher *Watcher) dropCallback(path string, id uint64) bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()

	callbacks := watcher.callbacks[path]
	if len(callbacks) == 0 {
		return false
	}
	for index, candidate := range callbacks {
		if candidate.id == id {
			callbacks = append(callbacks[:index], callbacks[index+1:]...)
			break
		}
	}
	if len(callbacks) == 0 {
		delete(watcher.callbacks, path)
		return true
	}
	watcher.callbacks[path] = callbacks
	return false
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event) {
	path := filepath.Clean(raw.Name)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	if raw.Op == fsnotify.Chmod {
		watcher.mutex.Unlock()
		return
	}
	lostRoot := false
	if raw.Has(fsnotify.Remove) || raw.Has(fsnotify.Rename) {
		// fsnotify drops its own watch for removed directories
		delete(watcher.watched, path)
		_, lostRoot = watcher.callbacks[path]
	}
	roots, callbacks := watcher.matchLocked(path)
	watcher.mutex.Unlock()

	if lostRoot {
		watcher.logWarn("watched directory removed", map[string]string{
			"path": path,
		})
	}

	if len(callbacks) == 0 {
		return
	}
	watcher.dispatch(callbacks, Event{
		EventType:  EventTypeFileChanged,
		Path:       path,
		Op:         raw.Op,
		OccurredAt: time.Now().UTC(),
	})

	if watcher.recursive && raw.Has(fsnotify.Create) {
		watcher.adoptDirectory(path, roots, callbacks)
	}
}

// adoptDirectory starts watching a directory created under a watched root
// and replays files that were written before the watch was in place.
func (watcher *Watcher) adoptDirectory(path string, roots []string, callbacks []func(Event)) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	for range roots {
		if err := watcher.addTree(path); err != nil {
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return
		}
	}
	_ = filepath.WalkDir(path, func(child string, entry fs.DirEntry, err error) error {
		if err != nil || child == path {
			return nil
		}
		watcher.dispatch(callbacks, Event{
			EventType:  EventTypeFileChanged,
			Path:       child,
			Op:         fsnotify.Create,
			OccurredAt: time.Now().UTC(),
		})
		return nil
	})
}

func (watcher *Watcher) dispatch(callbacks []func(Event), event Event) {
	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	}
}

func (watcher *Watcher) matchLocked(path string) ([]string, []func(Event)) {
	var roots []string
	var callbacks []func(Event)
	for root, entries := range watcher.callbacks {
		if !isWithinPath(root, path) {
			continue
		}
		roots = append(roots, root)
		for _, entry := range entries {
			callbacks = append(callbacks, entry.callback)
		}
	}
	return roots, callbacks
}

// Watching reports whether path still has a live fsnotify watch. It turns
// false once the directory is removed or renamed, even if a new directory
// later appears under the same name.
func (watcher *Watcher) Watching(path string) bool {
	if watcher == nil {
		return false
	}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.watched[filepath.Clean(path)] > 0
}

// WatchedPaths reports the number of paths registered with fsnotify.
func (watcher *Watcher) WatchedPaths() int {
	if watcher == nil {
		return 0
	}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return len(watcher.watched)
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
