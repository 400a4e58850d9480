// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"crypto/sha1"
	"encoding/base64"
	"path/filepath"
	"runtime"
	"strings"
)

const repoFolderSep = "--"

// repoFolder computes the on-disk folder name for a repository. It is a
// total, single-level, injective function of (kind, id): slashes in id
// are replaced by the separator, so "models--owner--name" never collides
// across kinds or with a differently-sliced owner/name pair as long as
// owner and name themselves never contain the separator.
func repoFolder(kind RepoType, id string) string {
	return kind.folderPrefix() + repoFolderSep + strings.ReplaceAll(id, "/", repoFolderSep)
}

// longPathThreshold is the platform path-length limit above which the
// extended-path prefix must be applied.
const longPathThreshold = 255

// longPathPrefix makes an absolute path safe on platforms with a 260
// character MAX_PATH limit by prepending the extended-length marker once
// the path exceeds the threshold.
func longPathPrefix(abs string) string {
	if runtime.GOOS != "windows" || len(abs) <= longPathThreshold || strings.HasPrefix(abs, `\\?\`) {
		return abs
	}
	return `\\?\` + abs
}

// splitServerPath splits a server-supplied "/"-separated relative path
// into host-separator segments, rejecting ".." segments on platforms
// using "\" as separator (where ".." could otherwise be smuggled past a
// naive join as a literal two-character name component).
func splitServerPath(rel string) ([]string, error) {
	segs := strings.Split(rel, "/")
	for _, s := range segs {
		if s == ".." && filepath.Separator == '\\' {
			return nil, &InvalidPathError{Path: rel, Reason: "\"..\" path segment is not allowed"}
		}
	}
	return segs, nil
}

// pointerPath computes the snapshot pointer location for one file at one
// commit, and verifies the result stays strictly within
// storage/snapshots/.
func pointerPath(storage, commit, rel string) (string, error) {
	segs, err := splitServerPath(rel)
	if err != nil {
		return "", err
	}
	snapshotsRoot := filepath.Join(storage, "snapshots")
	full := filepath.Join(append([]string{snapshotsRoot, commit}, segs...)...)
	cleanRoot := filepath.Clean(snapshotsRoot) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(full)+string(filepath.Separator), cleanRoot) {
		return "", &InvalidPathError{Path: rel, Reason: "resolves outside snapshots/"}
	}
	return longPathPrefix(full), nil
}

func blobPath(storage, etag string) string {
	return longPathPrefix(filepath.Join(storage, "blobs", etag))
}

func blobIncompletePath(storage, etag string) string {
	return blobPath(storage, etag) + ".incomplete"
}

func noExistPath(storage, commit, rel string) (string, error) {
	segs, err := splitServerPath(rel)
	if err != nil {
		return "", err
	}
	return longPathPrefix(filepath.Join(append([]string{storage, ".no_exist", commit}, segs...)...)), nil
}

func refPath(storage, revision string) string {
	return filepath.Join(storage, "refs", revision)
}

func blobLockPath(cacheRoot, folder, etag string) string {
	return filepath.Join(cacheRoot, ".locks", folder, etag+".lock")
}

// localPaths computes the sidecar-related paths for the local-dir mirror
// of one file, rooted at localDir/.cache/<product>/download/.
type localFilePaths struct {
	File     string
	Lock     string
	Metadata string
}

func localPaths(localDir, filename string) (localFilePaths, error) {
	segs, err := splitServerPath(filename)
	if err != nil {
		return localFilePaths{}, err
	}
	file := filepath.Join(append([]string{localDir}, segs...)...)
	sidecarDir := filepath.Join(append([]string{localDir, ".cache", productName, "download"}, segs...)...)
	return localFilePaths{
		File:     longPathPrefix(file),
		Lock:     longPathPrefix(sidecarDir + ".lock"),
		Metadata: longPathPrefix(sidecarDir + ".metadata"),
	}, nil
}

// incompleteBasename derives the ".incomplete" filename used while a blob
// or local-mirror file is being streamed: a short URL-safe hash of the
// metadata basename, disambiguating concurrent downloads of the same
// display filename under different etags.
func incompleteBasename(metadataBasename, etag string) string {
	sum := sha1.Sum([]byte(metadataBasename))
	short := base64.RawURLEncoding.EncodeToString(sum[:8])
	return short + "." + etag + ".incomplete"
}
