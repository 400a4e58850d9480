// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

// ProgressEvent is emitted to a caller-supplied ProgressFunc at the points
// listed below. Fields not meaningful for a given Event are left zero.
type ProgressEvent struct {
	Event string // "scan_start", "plan_item", "file_start", "file_progress", "file_done", "file_skip", "done"
	Repo  string
	Path  string // relative path within the repository
	Etag  string
	Total int64
	Done  int64
	IsLFS bool
	Err   error
}

// ProgressFunc receives progress events. It must return quickly; slow
// callbacks delay the transfer that reports them. A nil ProgressFunc is
// valid and discards all events.
type ProgressFunc func(ProgressEvent)

func report(fn ProgressFunc, evt ProgressEvent) {
	if fn != nil {
		fn(evt)
	}
}
