// Package downloader schedules requests onto per-destination slots and hands
// them to a protocol handler once a slot has room.
//
// Every request is admitted into exactly one slot, identified by a slot key:
// the download_slot meta value when present, otherwise the normalized host
// name, or its resolved IP address when per-IP concurrency is configured.
// A slot dispatches its queue in FIFO order, keeps at most its concurrency
// limit in flight and, when it has a download delay, starts at most one
// transfer per delay interval.
//
// All scheduler state is owned by a single event-loop goroutine. Callers,
// timers and finished transfers post closures to that loop instead of
// sharing locks with it.
package downloader
