// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfhub implements the cached-download engine shared by every
// client of a model/dataset/space hub: given a repository, a revision and
// a filename, it produces a local path whose bytes match the server's
// canonical version, reusing a content-addressed cache across repositories
// and coordinating concurrent downloaders of the same blob across
// processes on one host.
//
// The cache layout is a tree of repo folders, each holding a blobs/
// directory keyed by normalized ETag, a snapshots/<commit>/ tree of
// pointers (symlinks, or copies where the volume lacks symlink support),
// a refs/ directory mapping symbolic revisions to commit hashes, and a
// .no_exist/<commit>/ tree recording confirmed absences. A sibling
// .locks/ directory holds one flock-based lock file per blob so that
// concurrent processes serialize on the GET without ever holding the
// lock across anything but the fetch-and-materialize critical section.
//
// Two entry points exist: DownloadFile fetches a single file and returns
// its local path (from the cache, or mirrored into a user-chosen
// directory); DownloadSnapshot fetches every matching file in a
// repository revision under bounded concurrency and returns the root of
// the materialized tree.
//
// Network access goes through a small internal pipeline: a Session
// (connection pool + cookie jar, §C3) wrapped by a backoff policy (§C4)
// that retries on transient status codes and exceptions while restarting
// seekable request bodies from their recorded position. HEAD probes
// (§C6) follow same-origin redirects manually and never replay
// authorization across a host change; GET streams (§C7) resume from a
// byte offset and enforce a final-size consistency check. Failure
// responses are classified into a fixed error taxonomy (§C5) so callers
// can distinguish gated/private/missing repositories from transient
// connectivity problems.
//
// Everything in this package is safe for concurrent use by multiple
// goroutines and multiple OS processes sharing the same cache directory.
package hfhub
