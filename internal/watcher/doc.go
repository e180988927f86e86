// Package watcher re-indexes the documents root when supported documents
// change.
//
// Changes are picked up with fsnotify, or by polling when fsnotify cannot be
// initialised (network mounts, some container volumes). Bursts of events are
// coalesced per path over a quiet window and handed to a Reindexer, which
// runs one incremental index pass per batch.
package watcher
