// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Sentinel errors for the caller-facing taxonomy. Wrapped errors satisfy
// errors.Is against these; use errors.As to recover the richer *HubHTTPError
// or *ConsistencyError payload when present.
var (
	ErrLocalTokenNotFound  = errors.New("hfhub: local token not found")
	ErrOfflineModeEnabled  = errors.New("hfhub: offline mode is enabled")
	ErrRepositoryNotFound  = errors.New("hfhub: repository not found")
	ErrGatedRepo           = errors.New("hfhub: repository is gated")
	ErrDisabledRepo        = errors.New("hfhub: repository is disabled")
	ErrRevisionNotFound    = errors.New("hfhub: revision not found")
	ErrEntryNotFound       = errors.New("hfhub: entry not found")
	ErrLocalEntryNotFound  = errors.New("hfhub: entry not found in local cache and could not be fetched")
	ErrBadRequest          = errors.New("hfhub: bad request")
	ErrFileMetadataError   = errors.New("hfhub: server did not return required metadata")
	ErrConsistencyError    = errors.New("hfhub: downloaded size does not match the server's advertised size")
	ErrInvalidPath         = errors.New("hfhub: invalid path")
	ErrInvalidRange        = errors.New("hfhub: invalid byte range")
	ErrUsage               = errors.New("hfhub: invalid combination of options")
	ErrNotImplemented      = errors.New("hfhub: transport not implemented")
)

// HubHTTPError is the base classified-error shape for every server NACK
// that is not one of the more specific sentinels above. It carries enough
// context for a caller to decide whether to retry, authenticate, or give up.
type HubHTTPError struct {
	StatusCode int
	Sentinel   error    // one of the Err* sentinels above, or nil for a generic HubHTTPError
	Messages   []string // server-side messages, deduplicated, first occurrence preserved
	RequestID  string
	URL        string
	Commit     string // X-Repo-Commit, when the server sent one alongside the failure
	extra      string // appended guidance, e.g. permission hints
}

func (e *HubHTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hfhub: %d response for %s", e.StatusCode, e.URL)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request id: %s)", e.RequestID)
	}
	for _, m := range e.Messages {
		fmt.Fprintf(&b, ": %s", m)
	}
	if e.extra != "" {
		b.WriteString(". ")
		b.WriteString(e.extra)
	}
	return b.String()
}

func (e *HubHTTPError) Is(target error) bool {
	if e.Sentinel == nil {
		return false
	}
	return errors.Is(e.Sentinel, target)
}

// Append adds guidance to the error message without losing the underlying
// cause or prior appended text.
func (e *HubHTTPError) Append(s string) *HubHTTPError {
	if e.extra == "" {
		e.extra = s
	} else {
		e.extra = e.extra + "; " + s
	}
	return e
}

// ConsistencyError reports a final byte count that disagrees with the size
// the server advertised during the metadata probe.
type ConsistencyError struct {
	Expected int64
	Got      int64
	URL      string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("hfhub: %s: downloaded %d bytes, expected %d; retry with force_download", e.URL, e.Got, e.Expected)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistencyError }

// InvalidPathError reports a filename or pointer path that would escape
// its intended directory or violates a platform path constraint.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("hfhub: invalid path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool { return target == ErrInvalidPath }

// repoAPIShape matches the URL path pattern used to reclassify ambiguous
// 401 responses as RepositoryNotFound, per the error-classifier precedence.
var repoAPIShape = regexp.MustCompile(`^https://[^/]+(/api/(models|datasets|spaces)/.+|/.+/resolve/.+)`)

// ClassifyHTTPError derives one of the taxonomy errors from a failed
// response. It is exported so external collaborators (the Hub JSON
// metadata API client, in particular) can surface failures through the
// same taxonomy as the core download engine.
func ClassifyHTTPError(resp *http.Response, body []byte, requestURL string) error {
	return classifyHTTPError(resp, body, requestURL)
}

// classifyHTTPError derives one of the taxonomy errors from a failed
// response, following the fixed 9-step precedence order. body is the
// (already-read, possibly empty) response body, used to extract JSON
// error/errors[*].message fields.
func classifyHTTPError(resp *http.Response, body []byte, requestURL string) error {
	h := resp.Header
	code := h.Get("X-Error-Code")
	msg := h.Get("X-Error-Message")
	status := resp.StatusCode

	messages := dedupMessages(msg, body)
	requestID := h.Get("x-request-id")
	if requestID == "" {
		requestID = h.Get("X-Amzn-Trace-Id")
	}

	base := func(sentinel error) *HubHTTPError {
		return &HubHTTPError{StatusCode: status, Sentinel: sentinel, Messages: messages, RequestID: requestID, URL: requestURL}
	}

	switch {
	case code == "RevisionNotFound":
		return base(ErrRevisionNotFound)
	case code == "EntryNotFound":
		return base(ErrEntryNotFound)
	case code == "GatedRepo":
		return base(ErrGatedRepo)
	case msg == "Access to this resource is disabled.":
		return base(ErrDisabledRepo)
	case code == "RepoNotFound",
		status == http.StatusUnauthorized && msg != "Invalid credentials in Authorization header." && repoAPIShape.MatchString(requestURL):
		return base(ErrRepositoryNotFound)
	case status == http.StatusBadRequest:
		return base(ErrBadRequest)
	case status == http.StatusForbidden:
		return base(nil).Append("you do not have permission to access this resource; check your token and repository visibility")
	case status == http.StatusRequestedRangeNotSatisfiable:
		e := base(nil)
		e.Append(fmt.Sprintf("requested range %s was not satisfiable (returned Content-Range: %s)", resp.Request.Header.Get("Range"), h.Get("Content-Range")))
		return e
	default:
		return base(nil)
	}
}

// dedupMessages collects X-Error-Message plus JSON body "error" or
// "errors[*].message" fields, preserving first occurrence only.
func dedupMessages(headerMsg string, body []byte) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(headerMsg)
	if len(body) > 0 {
		var generic struct {
			Error  string `json:"error"`
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := jsonUnmarshalLenient(body, &generic); err == nil {
			add(generic.Error)
			for _, e := range generic.Errors {
				add(e.Message)
			}
		}
	}
	return out
}
