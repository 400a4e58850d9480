// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
)

func response(status int, headers map[string]string, requestURL string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	u, _ := url.Parse(requestURL)
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Request:    &http.Request{URL: u, Header: http.Header{}},
	}
}

func TestClassifyHTTPErrorPrecedence(t *testing.T) {
	cases := []struct {
		name   string
		resp   *http.Response
		target error
	}{
		{"revision not found wins over everything else", response(404, map[string]string{"X-Error-Code": "RevisionNotFound", "X-Error-Message": "Access to this resource is disabled."}, "https://huggingface.co/api/models/a/b"), ErrRevisionNotFound},
		{"entry not found", response(404, map[string]string{"X-Error-Code": "EntryNotFound"}, "https://huggingface.co/a/b/resolve/main/f"), ErrEntryNotFound},
		{"gated repo", response(403, map[string]string{"X-Error-Code": "GatedRepo"}, "https://huggingface.co/api/models/a/b"), ErrGatedRepo},
		{"disabled repo by message", response(403, map[string]string{"X-Error-Message": "Access to this resource is disabled."}, "https://huggingface.co/api/models/a/b"), ErrDisabledRepo},
		{"repo not found by code", response(404, map[string]string{"X-Error-Code": "RepoNotFound"}, "https://huggingface.co/api/models/a/b"), ErrRepositoryNotFound},
		{"401 reclassified as repository not found on api shape", response(401, map[string]string{"X-Error-Message": "nope"}, "https://huggingface.co/api/models/a/b"), ErrRepositoryNotFound},
		{"401 with the generic auth message is not reclassified", response(401, map[string]string{"X-Error-Message": "Invalid credentials in Authorization header."}, "https://huggingface.co/api/models/a/b"), nil},
		{"400 bad request", response(400, nil, "https://huggingface.co/api/models/a/b"), ErrBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := classifyHTTPError(c.resp, nil, c.resp.Request.URL.String())
			if c.target == nil {
				var hub *HubHTTPError
				if !errors.As(err, &hub) || hub.Sentinel != nil {
					t.Fatalf("expected a generic HubHTTPError, got %v", err)
				}
				return
			}
			if !errors.Is(err, c.target) {
				t.Fatalf("classifyHTTPError() = %v, want errors.Is match for %v", err, c.target)
			}
		})
	}
}

func TestClassifyHTTPError401OffRepoShapeIsNotReclassified(t *testing.T) {
	resp := response(401, map[string]string{"X-Error-Message": "nope"}, "https://huggingface.co/some/other/path")
	err := classifyHTTPError(resp, nil, resp.Request.URL.String())
	if errors.Is(err, ErrRepositoryNotFound) {
		t.Fatalf("401 off the repo-API URL shape must not be reclassified as RepositoryNotFound, got %v", err)
	}
}

func TestDedupMessagesPreservesFirstOccurrence(t *testing.T) {
	body := []byte(`{"error": "same message", "errors": [{"message": "same message"}, {"message": "other"}]}`)
	got := dedupMessages("same message", body)
	want := []string{"same message", "other"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
