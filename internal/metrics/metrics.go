package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry holds reload pipeline counters. The zero value is ready to use.
type Registry struct {
	eventsResolved atomic.Int64
	eventsIgnored  atomic.Int64
	cycles         atomic.Int64
	invalidated    atomic.Int64
	notifications  atomic.Int64
	watchTargets   atomic.Int64
	packages       sync.Map
}

type packageStats struct {
	cycles      atomic.Int64
	events      atomic.Int64
	invalidated atomic.Int64
}

func (r *Registry) IncEventResolved() {
	if r == nil {
		return
	}
	r.eventsResolved.Add(1)
}

func (r *Registry) IncEventIgnored() {
	if r == nil {
		return
	}
	r.eventsIgnored.Add(1)
}

func (r *Registry) IncNotification() {
	if r == nil {
		return
	}
	r.notifications.Add(1)
}

func (r *Registry) SetWatchTargets(count int) {
	if r == nil {
		return
	}
	r.watchTargets.Store(int64(count))
}

// RecordCycle accounts one fired coalescing cycle for a package.
func (r *Registry) RecordCycle(pkg string, events, invalidated int) {
	if r == nil {
		return
	}
	if strings.TrimSpace(pkg) == "" {
		pkg = "unknown"
	}
	r.cycles.Add(1)
	r.invalidated.Add(int64(invalidated))
	stats := r.packageStats(pkg)
	stats.cycles.Add(1)
	stats.events.Add(int64(events))
	stats.invalidated.Add(int64(invalidated))
}

// Snapshot is a point-in-time copy of the global counters.
type Snapshot struct {
	EventsResolved int64 `json:"events_resolved"`
	EventsIgnored  int64 `json:"events_ignored"`
	Cycles         int64 `json:"cycles"`
	Invalidated    int64 `json:"invalidated"`
	Notifications  int64 `json:"notifications"`
	WatchTargets   int64 `json:"watch_targets"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		EventsResolved: r.eventsResolved.Load(),
		EventsIgnored:  r.eventsIgnored.Load(),
		Cycles:         r.cycles.Load(),
		Invalidated:    r.invalidated.Load(),
		Notifications:  r.notifications.Load(),
		WatchTargets:   r.watchTargets.Load(),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "linkreload_events_total", "Change events resolved to a package", r.eventsResolved.Load())
	writeCounter(writer, "linkreload_events_ignored_total", "Change events outside every watch target", r.eventsIgnored.Load())
	writeCounter(writer, "linkreload_reload_cycles_total", "Coalesced reload cycles fired", r.cycles.Load())
	writeCounter(writer, "linkreload_entries_invalidated_total", "Cache entries purged", r.invalidated.Load())
	writeCounter(writer, "linkreload_notifications_total", "Full reload notifications sent", r.notifications.Load())
	writeHelp(writer, "linkreload_watch_targets", "Registered watch targets")
	fmt.Fprintln(writer, "# TYPE linkreload_watch_targets gauge")
	fmt.Fprintf(writer, "linkreload_watch_targets %d\n", r.watchTargets.Load())

	names := r.packageNames()
	sort.Strings(names)

	families := []struct {
		metric string
		help   string
		value  func(*packageStats) int64
	}{
		{"linkreload_package_cycles_total", "Reload cycles per package", func(stats *packageStats) int64 { return stats.cycles.Load() }},
		{"linkreload_package_events_total", "Absorbed change events per package", func(stats *packageStats) int64 { return stats.events.Load() }},
		{"linkreload_package_invalidated_total", "Cache entries purged per package", func(stats *packageStats) int64 { return stats.invalidated.Load() }},
	}
	for _, family := range families {
		writeHelp(writer, family.metric, family.help)
		fmt.Fprintf(writer, "# TYPE %s counter\n", family.metric)
		for _, name := range names {
			fmt.Fprintf(writer, "%s{package=%s} %d\n", family.metric, formatLabel(name), family.value(r.packageStats(name)))
		}
	}
	return nil
}

func (r *Registry) packageStats(name string) *packageStats {
	value, _ := r.packages.LoadOrStore(name, &packageStats{})
	return value.(*packageStats)
}

func (r *Registry) packageNames() []string {
	var names []string
	r.packages.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	return fmt.Sprintf("\"%s\"", escaped)
}
