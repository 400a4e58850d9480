// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"errors"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Sibling is one file entry belonging to a repository at a given
// revision, as returned by the external metadata API.
type Sibling struct {
	RFilename string
	Size      int64
	OID       string
	LFS       bool
}

// RepoInfo is the narrow projection of the Hub's JSON metadata response
// the snapshot coordinator needs; its JSON shape and pagination internals
// are an external collaborator, not specified here.
type RepoInfo struct {
	SHA      string
	Siblings []Sibling
}

// MetadataProvider is the external collaborator that resolves a
// repository revision to a commit and its sibling file list. Tree-list
// pagination (driven by a Link: …rel="next" header) lives entirely on
// the caller's side of this interface.
type MetadataProvider interface {
	RepoInfo(ctx context.Context, repo RepoSpec) (*RepoInfo, error)
	// ListTree re-fetches the sibling list via the recursive tree API,
	// used when RepoInfo's sibling count exceeds the truncation threshold.
	ListTree(ctx context.Context, repo RepoSpec) ([]Sibling, error)
}

const siblingTruncationThreshold = 50000

// DownloadSnapshot fetches every sibling of repo's revision that passes
// settings.AllowPatterns/IgnorePatterns, under bounded concurrency, and
// returns the resolved snapshot folder (or settings.LocalDir, if set).
func DownloadSnapshot(ctx context.Context, repo RepoSpec, provider MetadataProvider, settings Settings) (string, error) {
	r := resolveSettings(settings)

	info, err := provider.RepoInfo(ctx, repo)
	if err != nil {
		return "", err
	}
	siblings := info.Siblings
	if len(siblings) > siblingTruncationThreshold {
		siblings, err = provider.ListTree(ctx, repo)
		if err != nil {
			return "", err
		}
	}

	var filtered []Sibling
	for _, s := range siblings {
		if passesFilter(settings.AllowPatterns, settings.IgnorePatterns, s.RFilename) {
			filtered = append(filtered, s)
		}
	}

	report(settings.ProgressFunc, ProgressEvent{Event: "scan_start", Repo: repo.ID, Total: int64(len(filtered))})
	for _, s := range filtered {
		report(settings.ProgressFunc, ProgressEvent{Event: "plan_item", Repo: repo.ID, Path: s.RFilename, Total: s.Size, IsLFS: s.LFS})
	}

	width := r.maxWorkers
	if r.enableTurbo {
		width = 1 // the turbo transport parallelizes within a file, not across files
	}
	if width < 1 {
		width = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	perFile := repo
	perFile.Revision = info.SHA

	for _, s := range filtered {
		s := s
		g.Go(func() error {
			fileSettings := settings
			_, err := DownloadFile(gctx, perFile, s.RFilename, fileSettings)
			if errors.Is(err, ErrEntryNotFound) {
				report(settings.ProgressFunc, ProgressEvent{Event: "file_skip", Repo: repo.ID, Path: s.RFilename, Err: err})
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	report(settings.ProgressFunc, ProgressEvent{Event: "done", Repo: repo.ID})

	if settings.LocalDir != "" {
		return settings.LocalDir, nil
	}
	store := &blobStore{cacheRoot: r.cacheDir}
	return filepath.Join(store.storageFolder(repo.Kind, repo.ID), "snapshots", info.SHA), nil
}
