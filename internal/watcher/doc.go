// Package watcher provides the filesystem side of linkreload: an
// fsnotify-backed recursive Watcher and an EventHub that turns registered
// directories into an ordered stream of change events.
//
// The Watcher delivers every event it sees. Deduplication is left to
// consumers, which are expected to coalesce bursts themselves.
package watcher
