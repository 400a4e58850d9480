// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

type stubTransport struct {
	err     error
	written int
}

func (s *stubTransport) Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error {
	if s.err != nil {
		return s.err
	}
	s.written++
	return nil
}

func TestFallbackTransportFallsBackOnNotImplemented(t *testing.T) {
	primary := &stubTransport{err: ErrNotImplemented}
	fallback := &stubTransport{}
	ft := fallbackTransport{primary: primary, fallback: fallback}

	if err := ft.Download(context.Background(), "https://example.com/f", io.Discard, http.Header{}, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallback.written != 1 {
		t.Errorf("expected fallback to be invoked once, got %d", fallback.written)
	}
}

func TestFallbackTransportPropagatesOtherErrors(t *testing.T) {
	wantErr := errors.New("boom")
	primary := &stubTransport{err: wantErr}
	fallback := &stubTransport{}
	ft := fallbackTransport{primary: primary, fallback: fallback}

	if err := ft.Download(context.Background(), "https://example.com/f", io.Discard, http.Header{}, 0, 0); !errors.Is(err, wantErr) {
		t.Errorf("expected primary's error to propagate, got %v", err)
	}
	if fallback.written != 0 {
		t.Error("fallback should not be invoked for non-ErrNotImplemented failures")
	}
}
