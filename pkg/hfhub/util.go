// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"encoding/json"
	"net/url"
)

// jsonUnmarshalLenient decodes body into v, returning a nil error when body
// is empty or not valid JSON (many error responses are plain text).
func jsonUnmarshalLenient(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil
	}
	return nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// progressBytesHook builds an onBytes callback that reports running
// "file_progress" events for one file transfer.
func progressBytesHook(fn ProgressFunc, repo, path string, meta *FileMetadata) func(int64) {
	if fn == nil {
		return nil
	}
	var done int64
	return func(n int64) {
		done += n
		report(fn, ProgressEvent{Event: "file_progress", Repo: repo, Path: path, Etag: meta.Etag, Total: meta.Size, Done: done})
	}
}
