// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RepoType identifies the kind of repository a file or snapshot belongs to.
type RepoType int

const (
	RepoModel RepoType = iota
	RepoDataset
	RepoSpace
)

// folderPrefix is the "<kind>s" segment used in repo_folder names.
func (k RepoType) folderPrefix() string {
	switch k {
	case RepoDataset:
		return "datasets"
	case RepoSpace:
		return "spaces"
	default:
		return "models"
	}
}

// urlPrefix is the "<prefix>" segment used in resolve/API URLs: empty for
// models, "datasets/" or "spaces/" otherwise.
func (k RepoType) urlPrefix() string {
	switch k {
	case RepoDataset:
		return "datasets/"
	case RepoSpace:
		return "spaces/"
	default:
		return ""
	}
}

// TokenOption selects how an authentication token is sourced, mirroring
// the four-way rule in the external-interfaces contract: absent (implicit
// cached token), explicit string, disabled, or forced file read.
type TokenOption int

const (
	TokenImplicit TokenOption = iota // absent: use cached token unless disabled by env
	TokenDisabled                    // false: never send a token
	TokenFromFile                    // true: read from the token file unconditionally
	TokenExplicit                    // string: use TokenValue as-is
)

// RepoSpec names one repository revision to operate on.
type RepoSpec struct {
	Kind     RepoType
	ID       string // "<owner>/<name>"
	Revision string // commit hash or symbolic name; "" defaults to "main"
}

func (r RepoSpec) revision() string {
	return defaultString(r.Revision, "main")
}

// Settings configures a DownloadFile or DownloadSnapshot call. Zero value
// is valid; every field has a documented default applied by
// resolveSettings.
type Settings struct {
	Endpoint string // HF_ENDPOINT override; trailing slashes stripped
	HFHome   string // HF_HOME override
	CacheDir string // HF_HUB_CACHE override
	LocalDir string // when set, mirror into this directory instead of the cache

	TokenOption TokenOption
	TokenValue  string // used when TokenOption == TokenExplicit
	TokenPath   string // HF_TOKEN_PATH override

	EtagTimeout     time.Duration
	DownloadTimeout time.Duration

	ForceDownload  bool
	LocalFilesOnly bool
	Offline        bool // HF_HUB_OFFLINE override

	EnableTurboTransport bool // HF_HUB_ENABLE_HF_TRANSFER override
	DisableXetTransport  bool // HF_HUB_DISABLE_XET override

	MaxWorkers int // snapshot coordinator semaphore width; default 8

	UserAgentSuffix string // appended to the product User-Agent

	AllowPatterns []string // C11 allow globs
	IgnorePatterns []string // C11 ignore globs

	ProgressFunc ProgressFunc
}

const (
	defaultEtagTimeout     = 10 * time.Second
	defaultDownloadTimeout = 10 * time.Second
	defaultMaxWorkers      = 8
	productName            = "hfhub"
	productVersion         = "0.1.0"
	maxBasicTransportSize  = 50 * 1024 * 1024 * 1024 // ~50GB
)

// resolved is the fully-defaulted, environment-merged view of Settings
// used internally. Environment variables take precedence over caller
// settings for the two timeouts, per the concurrency model's stated rule.
type resolved struct {
	endpoint        string
	cacheDir        string
	homeDir         string
	tokenPath       string
	etagTimeout     time.Duration
	downloadTimeout time.Duration
	offline         bool
	disableXet      bool
	enableTurbo     bool
	maxWorkers      int
	userAgent       string
}

func resolveSettings(s Settings) resolved {
	home := firstNonEmpty(s.HFHome, os.Getenv("HF_HOME"), defaultHome())
	cache := firstNonEmpty(s.CacheDir, os.Getenv("HF_HUB_CACHE"), os.Getenv("HUGGINGFACE_HUB_CACHE"), filepath.Join(home, "hub"))
	endpoint := strings.TrimRight(firstNonEmpty(s.Endpoint, os.Getenv("HF_ENDPOINT"), "https://huggingface.co"), "/")
	tokenPath := firstNonEmpty(s.TokenPath, os.Getenv("HF_TOKEN_PATH"), filepath.Join(home, "token"))

	etag := durationFromEnv("HF_HUB_ETAG_TIMEOUT", s.EtagTimeout, defaultEtagTimeout)
	dl := durationFromEnv("HF_HUB_DOWNLOAD_TIMEOUT", s.DownloadTimeout, defaultDownloadTimeout)

	offline := s.Offline || boolEnv("HF_HUB_OFFLINE")
	disableXet := s.DisableXetTransport || boolEnv("HF_HUB_DISABLE_XET")
	turbo := s.EnableTurboTransport || boolEnv("HF_HUB_ENABLE_HF_TRANSFER")
	workers := defaultInt(s.MaxWorkers, defaultMaxWorkers)

	ua := productName + "/" + productVersion
	if s.UserAgentSuffix != "" {
		ua += "; " + s.UserAgentSuffix
	}

	return resolved{
		endpoint:        endpoint,
		cacheDir:        cache,
		homeDir:         home,
		tokenPath:       tokenPath,
		etagTimeout:     etag,
		downloadTimeout: dl,
		offline:         offline,
		disableXet:      disableXet,
		enableTurbo:     turbo,
		maxWorkers:      workers,
		userAgent:       ua,
	}
}

func defaultHome() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".cache", "huggingface")
	}
	return filepath.Join(os.TempDir(), "huggingface")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolEnv(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func durationFromEnv(name string, fallback, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if fallback > 0 {
		return fallback
	}
	return def
}

// resolveToken applies the token-acceptance rule from the external
// interfaces contract.
func resolveToken(s Settings, r resolved) (string, error) {
	switch s.TokenOption {
	case TokenDisabled:
		return "", nil
	case TokenExplicit:
		return s.TokenValue, nil
	case TokenFromFile:
		return readTokenFile(r.tokenPath)
	default: // TokenImplicit
		if boolEnv("HF_HUB_DISABLE_IMPLICIT_TOKEN") {
			return "", nil
		}
		if v := firstNonEmpty(os.Getenv("HF_TOKEN"), os.Getenv("HUGGING_FACE_HUB_TOKEN")); v != "" {
			return v, nil
		}
		tok, err := readTokenFile(r.tokenPath)
		if err != nil {
			return "", nil // no cached token is not an error in implicit mode
		}
		return tok, nil
	}
}

func readTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", ErrLocalTokenNotFound
	}
	return strings.TrimSpace(string(b)), nil
}

// resolveURL builds the "resolve" download URL for one file.
func resolveURL(endpoint string, kind RepoType, repoID, revision, filename string) string {
	return endpoint + "/" + kind.urlPrefix() + repoID + "/resolve/" + escapePathSegment(revision) + "/" + escapeRelPath(filename)
}

// apiURL builds the metadata-API URL for a repository, optionally pinned
// to a revision.
func apiURL(endpoint string, kind RepoType, repoID, revision string) string {
	u := endpoint + "/api/" + kind.folderPrefix() + "/" + repoID
	if revision != "" {
		u += "/revision/" + escapePathSegment(revision)
	}
	return u
}

func escapePathSegment(s string) string {
	return url.PathEscape(s)
}

// escapeRelPath escapes each "/"-delimited segment of a server-supplied
// relative filename independently, preserving the separators themselves.
func escapeRelPath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
