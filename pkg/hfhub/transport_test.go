// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"errors"
	"net/http"
	"testing"
)

func TestAdjustRangeForResumeNoExistingRange(t *testing.T) {
	got, err := adjustRangeForResume("", 4194304)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bytes=4194304-" {
		t.Errorf("got %q", got)
	}
}

func TestAdjustRangeForResumeSuffix(t *testing.T) {
	got, err := adjustRangeForResume("bytes=-100", 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bytes=-60" {
		t.Errorf("got %q, want bytes=-60", got)
	}

	if _, err := adjustRangeForResume("bytes=-40", 40); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange when N<=resume, got %v", err)
	}
}

func TestAdjustRangeForResumeExplicit(t *testing.T) {
	got, err := adjustRangeForResume("bytes=0-999", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bytes=10-999" {
		t.Errorf("got %q, want bytes=10-999", got)
	}

	if _, err := adjustRangeForResume("bytes=0-5", 10); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange when A+resume>B, got %v", err)
	}
}

func TestAdjustRangeForResumeOpenEnded(t *testing.T) {
	got, err := adjustRangeForResume("bytes=0-", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bytes=10-" {
		t.Errorf("got %q, want bytes=10-", got)
	}
}

func TestAdjustRangeForResumeRejectsMultiRange(t *testing.T) {
	if _, err := adjustRangeForResume("bytes=0-10,20-30", 1); err == nil {
		t.Fatal("expected an error for a multi-range header")
	}
}

func TestDisplayNameTruncation(t *testing.T) {
	longURL := "https://cdn.example.com/model-checkpoints/very/deeply/nested/path/model.safetensors"
	got := displayName(http.Header{}, longURL)
	if len(got) > 50 {
		t.Errorf("expected a truncated name, got %d bytes: %q", len(got), got)
	}
}

func TestResolveResponseTotalPrefersContentRange(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Range", "bytes 100-199/5000")
	total, ok := resolveResponseTotal(h, 100)
	if !ok || total != 5000 {
		t.Errorf("got (%d, %v), want (5000, true)", total, ok)
	}
}

func TestResolveResponseTotalFallsBackToContentLength(t *testing.T) {
	total, ok := resolveResponseTotal(http.Header{}, 4096)
	if !ok || total != 4096 {
		t.Errorf("got (%d, %v), want (4096, true)", total, ok)
	}
}

func TestResolveResponseTotalUnknown(t *testing.T) {
	if _, ok := resolveResponseTotal(http.Header{}, -1); ok {
		t.Error("expected ok=false when neither header is usable")
	}
}
