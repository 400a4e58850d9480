// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// backoffPolicy configures the retry wrapper around one HTTP call.
type backoffPolicy struct {
	MaxRetries  int
	BaseWait    time.Duration
	MaxWait     time.Duration
	RetryStatus map[int]bool
}

func defaultBackoffPolicy() backoffPolicy {
	return backoffPolicy{
		MaxRetries:  5,
		BaseWait:    1 * time.Second,
		MaxWait:     8 * time.Second,
		RetryStatus: map[int]bool{503: true},
	}
}

// withRetry429 returns a copy of the policy that additionally retries on
// 429. Nothing calls it: the metadata probe (headMetadata) does not go
// through backoffDo, so a 429 there is not retried.
func (p backoffPolicy) withRetry429() backoffPolicy {
	p.RetryStatus = map[int]bool{}
	for k, v := range defaultBackoffPolicy().RetryStatus {
		p.RetryStatus[k] = v
	}
	p.RetryStatus[429] = true
	return p
}

// backoffDo issues newReq repeatedly under the policy. newReq is called
// once per attempt: for a request with a body, the caller's newReq must
// produce a request whose body starts at the original offset (the usual
// Go idiom is to set req.GetBody, or to rebuild the body from a retained
// []byte/os.File each call). If the previous attempt's body was consumed
// and GetBody is nil, backoffDo fails fast rather than sending a
// truncated body.
//
// Returns the last response (even if its status is in the retry set,
// once retries are exhausted) so the caller can run its own
// raise-for-status / classification step, or the last error if every
// attempt failed before producing a response.
func backoffDo(ctx context.Context, session *Session, newReq func() (*http.Request, error), policy backoffPolicy) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if lastResp != nil && lastResp.Body != nil {
				lastResp.Body.Close()
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}
		if attempt > 0 && req.Body != nil && req.GetBody == nil {
			return nil, fmt.Errorf("hfhub: cannot restart non-seekable request body on retry %d", attempt)
		}

		resp, err := session.Client().Do(req)
		if err != nil {
			lastErr = err
			if !isRetryableRequestError(err) {
				return nil, err
			}
			if isTLSClassError(err) {
				session.Reset()
			}
			if attempt == policy.MaxRetries {
				return nil, lastErr
			}
			sleepBackoff(ctx, policy, attempt)
			continue
		}

		lastResp = resp
		if !policy.RetryStatus[resp.StatusCode] {
			return resp, nil
		}
		if attempt == policy.MaxRetries {
			return resp, nil
		}
		resp.Body.Close()
		slog.Default().Debug("hfhub: retrying after retryable status", "status", resp.StatusCode, "attempt", attempt, "url", req.URL.String())
		sleepBackoff(ctx, policy, attempt)
	}
	return lastResp, lastErr
}

func sleepBackoff(ctx context.Context, policy backoffPolicy, attempt int) {
	wait := policy.BaseWait << attempt
	if wait > policy.MaxWait || wait <= 0 {
		wait = policy.MaxWait
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// isRetryableRequestError reports whether err is the kind of transient
// network fault the backoff wrapper should retry: timeouts, connection
// resets, and DNS/dial failures, but not context cancellation.
func isRetryableRequestError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func isTLSClassError(err error) bool {
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &certErr)
}
