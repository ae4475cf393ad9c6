// Package cache purges cached artifacts that belong to a linked package.
package cache

import "strings"

// Entry addresses one cached artifact by URL-like key and, when known, the
// source file it was loaded from.
type Entry struct {
	URL  string
	File string
}

// Cache is the host's artifact cache as seen by the invalidation pass.
type Cache interface {
	Entries() []Entry
	Purge(Entry)
}

// Affected reports whether entry belongs to the named package.
func Affected(entry Entry, packageName, packagePath string) bool {
	if packageName != "" && strings.Contains(entry.URL, packageName) {
		return true
	}
	return entry.File != "" && packagePath != "" && strings.Contains(entry.File, packagePath)
}

// Invalidate purges every entry whose URL mentions packageName or whose file
// lies under packagePath, and returns how many were purged.
func Invalidate(c Cache, packageName, packagePath string) int {
	if c == nil {
		return 0
	}
	purged := 0
	for _, entry := range c.Entries() {
		if !Affected(entry, packageName, packagePath) {
			continue
		}
		c.Purge(entry)
		purged++
	}
	return purged
}
