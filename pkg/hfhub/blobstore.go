// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencontainers/go-digest"
)

// blobStore orchestrates the on-disk state for one repository folder
// under a single cache root: blobs/, refs/, snapshots/ and .no_exist/.
type blobStore struct {
	cacheRoot string
}

func (s *blobStore) storageFolder(kind RepoType, id string) string {
	return filepath.Join(s.cacheRoot, repoFolder(kind, id))
}

// tryLoadFromCache looks for a materialized pointer without any network
// access. found is false both when nothing is cached and when a
// .no_exist marker makes the absence itself the cached fact (callers
// distinguish the two via noExist).
func (s *blobStore) tryLoadFromCache(kind RepoType, id, commit, rel string) (path string, found bool, noExist bool, err error) {
	storage := s.storageFolder(kind, id)
	p, err := pointerPath(storage, commit, rel)
	if err != nil {
		return "", false, false, err
	}
	if _, statErr := os.Lstat(p); statErr == nil {
		return p, true, false, nil
	}
	ne, err := noExistPath(storage, commit, rel)
	if err != nil {
		return "", false, false, err
	}
	if _, statErr := os.Stat(ne); statErr == nil {
		return "", false, true, nil
	}
	return "", false, false, nil
}

// ensureBlob materializes the pointer for (commit, rel), downloading the
// blob through transport first if it is not already present. The blob's
// own lock serializes concurrent callers for the same (repo, etag); at
// most one of them performs the GET.
func (s *blobStore) ensureBlob(ctx context.Context, kind RepoType, id, commit, rel string, meta *FileMetadata, transport Transport, url string, headers http.Header, progress ProgressFunc) (string, error) {
	storage := s.storageFolder(kind, id)
	folder := repoFolder(kind, id)
	lockPath := blobLockPath(s.cacheRoot, folder, meta.Etag)

	pp, err := pointerPath(storage, commit, rel)
	if err != nil {
		return "", err
	}

	var result string
	lockErr := withLock(ctx, lockPath, func() error {
		bp := blobPath(storage, meta.Etag)
		if _, statErr := os.Lstat(pp); statErr == nil {
			result = pp
			return nil
		}

		newBlob := false
		if _, statErr := os.Stat(bp); statErr != nil {
			if err := s.downloadBlob(ctx, storage, rel, meta, transport, url, headers, progress); err != nil {
				return err
			}
			newBlob = true
		}

		if err := s.materializePointer(storage, commit, rel, meta.Etag, newBlob); err != nil {
			return err
		}
		result = pp
		return nil
	})
	if lockErr != nil {
		return "", lockErr
	}
	return result, nil
}

// downloadBlob streams the file into blobs/<etag>.incomplete, resuming
// if a previous incomplete download left bytes behind, then renames it
// into place once it reaches the expected size.
func (s *blobStore) downloadBlob(ctx context.Context, storage, rel string, meta *FileMetadata, transport Transport, url string, headers http.Header, progress ProgressFunc) error {
	incomplete := blobIncompletePath(storage, meta.Etag)
	if err := os.MkdirAll(filepath.Dir(incomplete), 0o755); err != nil {
		return err
	}

	var resumeSize int64
	if fi, err := os.Stat(incomplete); err == nil {
		resumeSize = fi.Size()
	}

	f, err := os.OpenFile(incomplete, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if resumeSize > 0 {
		if _, err := f.Seek(resumeSize, io.SeekStart); err != nil {
			f.Close()
			return err
		}
	}

	report(progress, ProgressEvent{Event: "file_start", Path: rel, Etag: meta.Etag, Total: meta.Size, Done: resumeSize})
	dlErr := transport.Download(ctx, url, f, headers, resumeSize, meta.Size)
	closeErr := f.Close()
	if dlErr != nil {
		return dlErr
	}
	if closeErr != nil {
		return closeErr
	}

	if want, ok := digestFromEtag(meta.Etag); ok {
		if err := verifyBlobDigest(incomplete, want); err != nil {
			os.Remove(incomplete)
			return fmt.Errorf("hfhub: %s: %w", meta.Location, err)
		}
	}

	finalPath := blobPath(storage, meta.Etag)
	if err := os.Rename(incomplete, finalPath); err != nil {
		return err
	}
	report(progress, ProgressEvent{Event: "file_done", Path: rel, Etag: meta.Etag, Total: meta.Size, Done: meta.Size})
	return nil
}

// digestFromEtag recognizes an ETag that is itself a content digest (LFS
// objects on the Hub use their SHA-256 OID as the ETag, bare or already
// algorithm-prefixed) and returns it in canonical digest form.
func digestFromEtag(etag string) (digest.Digest, bool) {
	if d := digest.Digest(etag); d.Validate() == nil {
		return d, true
	}
	if d := digest.Digest("sha256:" + etag); d.Validate() == nil {
		return d, true
	}
	return "", false
}

// verifyBlobDigest streams path through want's verifier, catching silent
// corruption or a mismatched resume that downloadBlob's size check alone
// would miss.
func verifyBlobDigest(path string, want digest.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	verifier := want.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("digest mismatch: want %s", want)
	}
	return nil
}

// materializePointer creates the snapshots/<commit>/<rel> entry for an
// already-present blob: a symlink where supported, otherwise a move (if
// the blob was freshly downloaded, avoiding duplication) or a copy.
func (s *blobStore) materializePointer(storage, commit, rel, etag string, newBlob bool) error {
	pp, err := pointerPath(storage, commit, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(pp), 0o755); err != nil {
		return err
	}
	bp := blobPath(storage, etag)

	if symlinksSupported(s.cacheRoot) {
		os.Remove(pp)
		rel, err := filepath.Rel(filepath.Dir(pp), bp)
		if err != nil {
			rel = bp
		}
		if err := os.Symlink(rel, pp); err != nil {
			return err
		}
		return s.normalizePermissions(storage, bp)
	}

	if newBlob {
		if err := os.Rename(bp, pp); err != nil {
			return err
		}
		return nil
	}
	return copyFile(bp, pp)
}

// symlinkProbeResults memoizes the per-cache-root symlink-support
// decision so only one probe is ever performed per cache directory.
var (
	symlinkProbeMu      sync.Mutex
	symlinkProbeResults = map[string]bool{}
)

func symlinksSupported(cacheRoot string) bool {
	symlinkProbeMu.Lock()
	defer symlinkProbeMu.Unlock()
	if v, ok := symlinkProbeResults[cacheRoot]; ok {
		return v
	}
	dir, err := os.MkdirTemp(cacheRoot, ".symlink_probe_*")
	if err != nil {
		symlinkProbeResults[cacheRoot] = false
		return false
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		symlinkProbeResults[cacheRoot] = false
		return false
	}
	ok := os.Symlink(target, link) == nil
	symlinkProbeResults[cacheRoot] = ok
	return ok
}

// normalizePermissions aligns bp's mode with the cache directory's
// effective default mode, discovered via a throwaway temp file since the
// process umask cannot be read safely without mutating global state.
func (s *blobStore) normalizePermissions(storage, bp string) error {
	tmp, err := os.CreateTemp(storage, ".perm_probe_*")
	if err != nil {
		return nil // best-effort; not fatal to the download
	}
	info, statErr := tmp.Stat()
	tmp.Close()
	os.Remove(tmp.Name())
	if statErr != nil {
		return nil
	}
	return os.Chmod(bp, info.Mode().Perm())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// updateRef writes commit into refs/<revision> only if it differs from
// the stored value, avoiding useless writes under read-only caches.
func (s *blobStore) updateRef(kind RepoType, id, revision, commit string) error {
	if revision == commit {
		return nil // revision is already the hash; no symbolic ref to track
	}
	storage := s.storageFolder(kind, id)
	p := refPath(storage, revision)
	if existing, err := os.ReadFile(p); err == nil && string(existing) == commit {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(commit), 0o644)
}

func (s *blobStore) readRef(kind RepoType, id, revision string) (string, bool) {
	storage := s.storageFolder(kind, id)
	b, err := os.ReadFile(refPath(storage, revision))
	if err != nil {
		return "", false
	}
	return string(b), true
}

// markNoExist records a confirmed server-side absence so future offline
// lookups for (commit, rel) short-circuit without a network call.
func (s *blobStore) markNoExist(kind RepoType, id, commit, rel string) error {
	storage := s.storageFolder(kind, id)
	p, err := noExistPath(storage, commit, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("hfhub: marking no-exist: %w", err)
	}
	return f.Close()
}
