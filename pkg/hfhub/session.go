// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
)

// Session is a single logical HTTP client shared across a process: one
// connection pool and one cookie jar. Reset discards both and rebuilds
// them, which is invoked when a TLS-class fault is observed so that
// poisoned connection or session-ticket state cannot leak into a retry.
//
// The zero value is not usable; construct with NewSession. A *Session is
// safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	client    *http.Client
	transport func() http.RoundTripper // factory so Reset can build a fresh transport
}

// NewSession builds a Session with a fresh connection pool and cookie
// jar. transportFactory may be nil to accept the default direct-HTTPS
// transport; supply one to configure a proxy or custom TLS config.
func NewSession(transportFactory func() http.RoundTripper) *Session {
	if transportFactory == nil {
		transportFactory = func() http.RoundTripper { return http.DefaultTransport.(*http.Transport).Clone() }
	}
	s := &Session{transport: transportFactory}
	s.rebuild()
	return s
}

func (s *Session) rebuild() {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Transport: s.transport(),
		Jar:       jar,
		// Redirects are followed automatically for GET bodies; HEAD probes
		// disable this at the call site to implement manual relative-only
		// redirect handling.
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// Reset discards the current connection pool and cookie jar and rebuilds
// both. Safe to call concurrently with in-flight requests on the old
// client; those requests keep running to completion on the discarded
// client's transport.
func (s *Session) Reset() {
	s.rebuild()
}

// Client returns the current *http.Client. The returned value must not be
// retained across a Reset if the caller wants to observe the rebuilt
// pool; callers that hold a *Session should call Client() again per
// request instead of caching it.
func (s *Session) Client() *http.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// noRedirectClient returns a client sharing this session's transport and
// jar but that never follows redirects automatically, for the metadata
// probe's manual relative-redirect handling.
func (s *Session) noRedirectClient() *http.Client {
	base := s.Client()
	return &http.Client{
		Transport: base.Transport,
		Jar:       base.Jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
