// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// XetDescriptor carries the content-defined-chunked transport's locator,
// used only to select the xet transport in the byte-transport layer.
type XetDescriptor struct {
	FileHash     string
	RefreshRoute string
}

// FileMetadata is the result of a successful HEAD probe.
type FileMetadata struct {
	Commit   string
	Etag     string
	Size     int64
	Location string
	Xet      *XetDescriptor
}

// normalizeEtag strips a leading weak-validator marker and any
// surrounding quotes from a raw ETag/X-Linked-Etag header value.
func normalizeEtag(raw string) string {
	raw = strings.TrimPrefix(raw, `W/`)
	return strings.Trim(raw, `"`)
}

const maxRelativeRedirects = 10

// headMetadata issues a HEAD request against rawURL, following same-
// origin ("relative") redirects manually and refusing to follow
// absolute redirects — those point at signed CDN URLs whose
// authorization must not be replayed. headers are sent as-is except for
// a forced Accept-Encoding: identity so Content-Length reflects the
// true on-wire size.
func headMetadata(ctx context.Context, session *Session, rawURL string, headers http.Header, timeout time.Duration) (*FileMetadata, error) {
	client := session.noRedirectClient()
	client.Timeout = timeout

	current := rawURL

	for i := 0; i < maxRelativeRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, current, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept-Encoding", "identity")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			next, err := resolveRedirectLocation(current, loc)
			if err != nil {
				return nil, err
			}
			if next.isAbsoluteOtherHost {
				// Absolute redirect: stop following, report it as the
				// resolved location without an authenticated re-probe.
				return metadataFromHeaders(resp.Header, next.url.String())
			}
			current = next.url.String()
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			err := classifyHTTPError(resp, body, current)
			if hub, ok := err.(*HubHTTPError); ok {
				hub.Commit = resp.Header.Get("X-Repo-Commit")
			}
			return nil, err
		}

		return metadataFromHeaders(resp.Header, current)
	}
	return nil, &HubHTTPError{StatusCode: 310, URL: rawURL, Messages: []string{"too many relative redirects"}}
}

type redirectTarget struct {
	url                  *url.URL
	isAbsoluteOtherHost  bool
}

// resolveRedirectLocation resolves Location against current and reports
// whether it is an absolute URL carrying a host (not followed, whether or
// not the host matches) versus a relative path (followed).
func resolveRedirectLocation(current, location string) (redirectTarget, error) {
	base, err := url.Parse(current)
	if err != nil {
		return redirectTarget{}, err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return redirectTarget{}, err
	}
	resolved := base.ResolveReference(loc)
	otherHost := loc.Host != ""
	return redirectTarget{url: resolved, isAbsoluteOtherHost: otherHost}, nil
}

func metadataFromHeaders(h http.Header, finalURL string) (*FileMetadata, error) {
	commit := h.Get("X-Repo-Commit")
	if commit == "" {
		return nil, &HubHTTPError{Sentinel: ErrFileMetadataError, Messages: []string{"missing X-Repo-Commit header"}, URL: finalURL}
	}

	rawEtag := h.Get("X-Linked-Etag")
	if rawEtag == "" {
		rawEtag = h.Get("ETag")
	}
	if rawEtag == "" {
		return nil, &HubHTTPError{Sentinel: ErrFileMetadataError, Messages: []string{"missing ETag/X-Linked-Etag header"}, URL: finalURL}
	}
	etag := normalizeEtag(rawEtag)

	sizeStr := h.Get("X-Linked-Size")
	if sizeStr == "" {
		sizeStr = h.Get("Content-Length")
	}
	if sizeStr == "" {
		return nil, &HubHTTPError{Sentinel: ErrFileMetadataError, Messages: []string{"missing Content-Length/X-Linked-Size header"}, URL: finalURL}
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return nil, &HubHTTPError{Sentinel: ErrFileMetadataError, Messages: []string{"unparseable size header: " + sizeStr}, URL: finalURL}
	}

	location := h.Get("Location")
	if location == "" {
		location = finalURL
	}

	meta := &FileMetadata{Commit: commit, Etag: etag, Size: size, Location: location}
	if fh := h.Get("X-Xet-Hash"); fh != "" {
		meta.Xet = &XetDescriptor{FileHash: fh, RefreshRoute: h.Get("X-Xet-Refresh-Route")}
	} else if route := xetAuthLinkRoute(h.Get("Link")); route != "" {
		meta.Xet = &XetDescriptor{RefreshRoute: route}
	}
	return meta, nil
}

// xetAuthLinkRoute extracts the target URL of a Link header entry whose
// rel parameter is "xet-auth".
func xetAuthLinkRoute(link string) string {
	for _, part := range strings.Split(link, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="xet-auth"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}
