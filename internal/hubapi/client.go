// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hubapi implements the Hub's JSON metadata API against the
// narrow hfhub.MetadataProvider interface: resolving a repository
// revision to its current commit and sibling file list, re-fetching via
// the recursive tree listing when the sibling list was truncated.
package hubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hfhub/pkg/hfhub"
)

// Client implements hfhub.MetadataProvider.
type Client struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
}

// New builds a Client with its own pooled HTTP client (proxy from the
// environment, up to 64 idle connections kept for 90 seconds).
func New(endpoint, token string) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Token:    token,
		HTTP: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          64,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

func (c *Client) addAuth(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", "hfhub/0.1.0")
}

type repoInfoResponse struct {
	SHA      string `json:"sha"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size,omitempty"`
		LFS       *struct {
			OID  string `json:"oid,omitempty"`
			Size int64  `json:"size,omitempty"`
		} `json:"lfs,omitempty"`
	} `json:"siblings"`
}

func kindSegment(kind hfhub.RepoType) string {
	switch kind {
	case hfhub.RepoDataset:
		return "datasets"
	case hfhub.RepoSpace:
		return "spaces"
	default:
		return "models"
	}
}

// RepoInfo fetches /api/<kind>s/<id>[/revision/<rev>] and projects its
// siblings into the shape the snapshot coordinator consumes.
func (c *Client) RepoInfo(ctx context.Context, repo hfhub.RepoSpec) (*hfhub.RepoInfo, error) {
	u := fmt.Sprintf("%s/api/%s/%s", c.Endpoint, kindSegment(repo.Kind), repo.ID)
	if rev := repo.Revision; rev != "" && rev != "main" {
		u += "/revision/" + url.PathEscape(rev)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.addAuth(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode >= 400 {
		return nil, classify(resp, body, u)
	}

	var parsed repoInfoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("hubapi: decoding repo info: %w", err)
	}

	out := &hfhub.RepoInfo{SHA: parsed.SHA}
	for _, s := range parsed.Siblings {
		sib := hfhub.Sibling{RFilename: s.RFilename, Size: s.Size}
		if s.LFS != nil {
			sib.LFS = true
			sib.OID = s.LFS.OID
			if s.LFS.Size > 0 {
				sib.Size = s.LFS.Size
			}
		}
		out.Siblings = append(out.Siblings, sib)
	}
	return out, nil
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
	OID  string `json:"oid,omitempty"`
	LFS  *struct {
		OID  string `json:"oid,omitempty"`
		Size int64  `json:"size,omitempty"`
	} `json:"lfs,omitempty"`
}

// ListTree streams the recursive tree listing, following the plain-
// string "next" URL carried in the Link header's rel="next" entry across
// pages, never JSON-decoding that value; a JSON-quoted value is an error.
func (c *Client) ListTree(ctx context.Context, repo hfhub.RepoSpec) ([]hfhub.Sibling, error) {
	rev := repo.Revision
	if rev == "" {
		rev = "main"
	}
	next := fmt.Sprintf("%s/api/%s/%s/tree/%s?recursive=true", c.Endpoint, kindSegment(repo.Kind), repo.ID, url.PathEscape(rev))

	var out []hfhub.Sibling
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		c.addAuth(req)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, classify(resp, body, next)
		}

		var entries []treeEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("hubapi: decoding tree page: %w", err)
		}
		for _, e := range entries {
			if e.Type != "file" {
				continue
			}
			sib := hfhub.Sibling{RFilename: e.Path, Size: e.Size}
			if e.LFS != nil {
				sib.LFS = true
				sib.OID = e.LFS.OID
				if e.LFS.Size > 0 {
					sib.Size = e.LFS.Size
				}
			}
			out = append(out, sib)
		}

		next = nextPageURL(resp.Header.Get("Link"))
		if strings.HasPrefix(next, `"`) {
			return nil, fmt.Errorf("hubapi: malformed Link header: JSON-quoted next URL %s", next)
		}
	}
	return out, nil
}

// nextPageURL extracts the plain-string URL of the Link header entry
// with rel="next". The link-header format never JSON-quotes the URL, so
// no JSON decoding is attempted here.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
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

func classify(resp *http.Response, body []byte, requestURL string) error {
	// hubapi sits outside the core engine, but failures here must still
	// surface through the same taxonomy so callers can tell a gated or
	// missing repository from a transient fetch error.
	return hfhub.ClassifyHTTPError(resp, body, requestURL)
}
