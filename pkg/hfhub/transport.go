// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Transport streams one file's bytes into sink, appending starting at
// resumeSize, until sink's length equals expectedSize. Implementations
// must enforce the same size-consistency postcondition as the default
// HTTP transport: a short or long stream is an error, never silently
// accepted. This is the narrow interface through which accelerated
// transports (xet, turbo) are invoked; their wire protocols are out of
// scope here.
type Transport interface {
	Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error
}

// httpTransport is the default, always-available Transport: a single
// sequential GET with Range-based resume and mid-stream retry.
type httpTransport struct {
	session *Session
	policy  backoffPolicy
	onBytes func(n int64) // progress hook, may be nil
}

func newHTTPTransport(session *Session, onBytes func(int64)) *httpTransport {
	return &httpTransport{session: session, policy: defaultBackoffPolicy(), onBytes: onBytes}
}

const retryBudgetDefault = 5

func (t *httpTransport) Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error {
	if expectedSize > maxBasicTransportSize {
		return fmt.Errorf("hfhub: %s: %d bytes exceeds the basic transport limit; an accelerated transport is required", url, expectedSize)
	}

	budget := retryBudgetDefault
	written := resumeSize

	for {
		rangeHeader, err := adjustRangeForResume(headers.Get("Range"), written)
		if err != nil {
			return err
		}

		req := headers.Clone()
		if rangeHeader != "" {
			req.Set("Range", rangeHeader)
		} else {
			req.Del("Range")
		}

		n, streamErr := t.attempt(ctx, url, sink, req, written, expectedSize)
		written += n

		if streamErr == nil {
			break
		}
		if !isRetryableStreamError(streamErr) {
			return streamErr
		}
		if n > 0 {
			budget = retryBudgetDefault
		}
		if budget <= 0 {
			return streamErr
		}
		budget--
		if isTLSClassError(streamErr) {
			t.session.Reset()
		}
		slog.Default().Debug("hfhub: resuming download after transient fault", "url", url, "written", written, "budget", budget, "err", streamErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if written != expectedSize {
		return &ConsistencyError{Expected: expectedSize, Got: written, URL: url}
	}
	return nil
}

// attempt issues one GET and streams its body into sink, returning the
// number of bytes written during this attempt (not the running total)
// and any error encountered mid-stream or while establishing the
// request.
func (t *httpTransport) attempt(ctx context.Context, url string, sink io.Writer, headers http.Header, alreadyWritten, expectedSize int64) (int64, error) {
	resp, err := backoffDo(ctx, t.session, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	}, t.policy)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return 0, classifyHTTPError(resp, body, url)
	}

	if total, ok := resolveResponseTotal(resp.Header, resp.ContentLength); ok && total != expectedSize {
		return 0, &ConsistencyError{Expected: expectedSize, Got: total, URL: url}
	}

	slog.Default().Debug("hfhub: streaming", "name", displayName(resp.Header, url), "resumed", alreadyWritten > 0)
	counting := &countingWriter{w: sink, onBytes: t.onBytes}
	_, copyErr := io.Copy(counting, resp.Body)
	return counting.n, copyErr
}

// resolveResponseTotal determines the GET response's declared total object
// size, preferring Content-Range's "bytes a-b/total" total over
// Content-Length when both are present — Content-Length on a partial
// response reflects only the range served, not the full object.
func resolveResponseTotal(h http.Header, contentLength int64) (int64, bool) {
	if cr := h.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			totalStr := cr[i+1:]
			if totalStr != "*" {
				if total, err := strconv.ParseInt(totalStr, 10, 64); err == nil {
					return total, true
				}
			}
		}
	}
	if contentLength >= 0 {
		return contentLength, true
	}
	return 0, false
}

type countingWriter struct {
	w       io.Writer
	n       int64
	onBytes func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if n > 0 && c.onBytes != nil {
		c.onBytes(int64(n))
	}
	return n, err
}

func isRetryableStreamError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return false
	}
	var hub *HubHTTPError
	if errors.As(err, &hub) {
		return false
	}
	return true
}

var rangeExplicit = regexp.MustCompile(`^bytes=(\d+)-(\d+)$`)
var rangeOpenEnded = regexp.MustCompile(`^bytes=(\d+)-$`)
var rangeSuffix = regexp.MustCompile(`^bytes=-(\d+)$`)

// adjustRangeForResume translates a caller-supplied Range header by
// resumeSize, preserving its open-ended/suffix/explicit form, or builds a
// plain open-ended Range when none was supplied and resumeSize > 0.
// Multi-range and inverted ranges are rejected.
func adjustRangeForResume(existing string, resumeSize int64) (string, error) {
	if existing == "" {
		if resumeSize > 0 {
			return fmt.Sprintf("bytes=%d-", resumeSize), nil
		}
		return "", nil
	}
	if strings.Contains(existing, ",") {
		return "", &InvalidPathError{Path: existing, Reason: "multi-range requests are not supported"}
	}
	if resumeSize == 0 {
		return existing, nil
	}

	if m := rangeSuffix.FindStringSubmatch(existing); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		if n <= resumeSize {
			return "", ErrInvalidRange
		}
		return fmt.Sprintf("bytes=-%d", n-resumeSize), nil
	}
	if m := rangeExplicit.FindStringSubmatch(existing); m != nil {
		a, _ := strconv.ParseInt(m[1], 10, 64)
		b, _ := strconv.ParseInt(m[2], 10, 64)
		if a+resumeSize > b {
			return "", ErrInvalidRange
		}
		return fmt.Sprintf("bytes=%d-%d", a+resumeSize, b), nil
	}
	if m := rangeOpenEnded.FindStringSubmatch(existing); m != nil {
		a, _ := strconv.ParseInt(m[1], 10, 64)
		return fmt.Sprintf("bytes=%d-", a+resumeSize), nil
	}
	return "", &InvalidPathError{Path: existing, Reason: "unrecognized Range header shape"}
}

// displayName derives a short name for progress reporting from
// Content-Disposition, falling back to the URL, truncated to the
// rightmost 40 characters prefixed by "(…)" when longer.
func displayName(h http.Header, url string) string {
	name := ""
	if cd := h.Get("Content-Disposition"); cd != "" {
		if i := strings.Index(cd, `filename="`); i >= 0 {
			rest := cd[i+len(`filename="`):]
			if j := strings.Index(rest, `"`); j >= 0 {
				name = rest[:j]
			}
		}
	}
	if name == "" {
		name = url
	}
	if len(name) > 40 {
		name = "(…)" + name[len(name)-40:]
	}
	return name
}
