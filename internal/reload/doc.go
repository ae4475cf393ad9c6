// Package reload drives the change-to-reload pipeline for linked packages.
//
// A Session registers each package's output directory with the host
// watcher, resolves every change event to the package that owns it,
// coalesces bursts per package, purges that package's cached artifacts and
// finally asks connected clients for a full reload.
package reload
