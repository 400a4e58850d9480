// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

var commitHashShape = regexp.MustCompile(`^[0-9a-f]{40}$`)

func isCommitHash(rev string) bool { return commitHashShape.MatchString(rev) }

// DownloadFile fetches one file of one repository revision and returns its
// local path: inside the shared cache by default, or mirrored into
// settings.LocalDir when set. It short-circuits without any network
// access when the revision is already a commit hash and that exact file
// is already materialized and settings.ForceDownload is false.
func DownloadFile(ctx context.Context, repo RepoSpec, rel string, settings Settings) (string, error) {
	if settings.ForceDownload && settings.LocalFilesOnly {
		return "", fmt.Errorf("hfhub: force_download and local_files_only are mutually exclusive: %w", ErrUsage)
	}

	r := resolveSettings(settings)
	token, err := resolveToken(settings, r)
	if err != nil {
		return "", err
	}
	store := &blobStore{cacheRoot: r.cacheDir}
	revisionIsHash := isCommitHash(repo.revision())

	if !settings.ForceDownload && revisionIsHash {
		if path, found, noExist, _ := store.tryLoadFromCache(repo.Kind, repo.ID, repo.revision(), rel); found {
			return path, nil
		} else if noExist {
			return "", ErrEntryNotFound
		}
	}

	offline := r.offline || settings.LocalFilesOnly
	url := resolveURL(r.endpoint, repo.Kind, repo.ID, repo.revision(), rel)
	headers := buildHeaders(r, token)

	var meta *FileMetadata
	var probeErr error
	if offline {
		probeErr = ErrOfflineModeEnabled
	} else {
		session := sharedSession()
		meta, probeErr = headMetadata(ctx, session, url, headers, r.etagTimeout)
	}

	if probeErr != nil {
		path, fallbackErr := offlineFallback(store, repo, rel, revisionIsHash, settings.LocalFilesOnly, probeErr)
		if fallbackErr == nil {
			return path, nil
		}
		return "", fallbackErr
	}

	if err := store.updateRef(repo.Kind, repo.ID, repo.revision(), meta.Commit); err != nil {
		return "", err
	}

	session := sharedSession()
	getHeaders := headers.Clone()
	if hostDiffers(meta.Location, url) {
		getHeaders.Del("Authorization")
	}
	transport, _ := selectTransport(session, r, meta, getHeaders.Get("Range"), false, progressBytesHook(settings.ProgressFunc, repo.ID, rel, meta))

	if settings.LocalDir != "" {
		return store.ensureLocalMirror(ctx, settings.LocalDir, repo.Kind, repo.ID, rel, repo.revision(), revisionIsHash,
			func() (*FileMetadata, error) { return meta, nil },
			func(m *FileMetadata) (Transport, http.Header, string) { return transport, getHeaders, meta.Location },
			settings.ProgressFunc)
	}
	return store.ensureBlob(ctx, repo.Kind, repo.ID, meta.Commit, rel, meta, transport, meta.Location, getHeaders, settings.ProgressFunc)
}

// offlineFallback implements the offline/connectivity-error satisfaction
// policy: a cached pointer at a known commit wins outright; otherwise the
// cause of the probe failure decides which error surfaces.
func offlineFallback(store *blobStore, repo RepoSpec, rel string, revisionIsHash bool, localFilesOnly bool, probeErr error) (string, error) {
	commit := repo.revision()
	if !revisionIsHash {
		if c, ok := store.readRef(repo.Kind, repo.ID, repo.revision()); ok {
			commit = c
		} else {
			commit = ""
		}
	}
	if commit != "" {
		if path, found, _, _ := store.tryLoadFromCache(repo.Kind, repo.ID, commit, rel); found {
			return path, nil
		}
	}

	if localFilesOnly {
		return "", ErrLocalEntryNotFound
	}

	var hub *HubHTTPError
	if errors.As(probeErr, &hub) {
		switch {
		case errors.Is(hub, ErrRepositoryNotFound), errors.Is(hub, ErrGatedRepo), errors.Is(hub, ErrDisabledRepo):
			return "", probeErr
		case hub.StatusCode == http.StatusUnauthorized:
			return "", probeErr
		}
		if errors.Is(hub, ErrEntryNotFound) && hub.Commit != "" {
			_ = store.markNoExist(repo.Kind, repo.ID, hub.Commit, rel)
			return "", ErrEntryNotFound
		}
	}
	return "", ErrLocalEntryNotFound
}

func hostDiffers(location, original string) bool {
	lu, err1 := parseHost(location)
	ou, err2 := parseHost(original)
	return err1 == nil && err2 == nil && lu != "" && lu != ou
}

func buildHeaders(r resolved, token string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.userAgent)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

var defaultSession = NewSession(nil)

func sharedSession() *Session { return defaultSession }
