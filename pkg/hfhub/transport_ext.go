// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// turboTransport and xetTransport are narrow placeholders for the
// accelerated multi-connection and content-defined-chunked downloaders.
// Their wire protocols are out of scope here; selectTransport only
// decides *when* they would be used so that the decision logic itself is
// exercised even though no accelerated implementation ships.
type turboTransport struct{}

func (turboTransport) Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error {
	return ErrNotImplemented
}

type xetTransport struct{ descriptor XetDescriptor }

func (xetTransport) Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error {
	return ErrNotImplemented
}

const turboSizeThreshold = 256 * 1024 * 1024

// fallbackTransport tries primary first and, if it reports
// ErrNotImplemented, retries the same range through fallback instead of
// failing the download outright. This lets selectTransport route eligible
// files to xet/turbo without those stubs' absence turning into a hard
// failure for ordinary downloads.
type fallbackTransport struct {
	primary  Transport
	fallback Transport
}

func (t fallbackTransport) Download(ctx context.Context, url string, sink io.Writer, headers http.Header, resumeSize, expectedSize int64) error {
	err := t.primary.Download(ctx, url, sink, headers, resumeSize, expectedSize)
	if errors.Is(err, ErrNotImplemented) {
		return t.fallback.Download(ctx, url, sink, headers, resumeSize, expectedSize)
	}
	return err
}

// selectTransport applies the accelerated-transport selection rule: xet
// when the probe returned a descriptor and xet is not disabled; turbo
// when enabled, the file is large enough, no caller Range was supplied,
// and no proxy is configured; otherwise the sequential HTTP transport.
// An accelerated choice is wrapped so that an unimplemented stub falls
// back to the sequential transport rather than failing the download.
func selectTransport(session *Session, r resolved, meta *FileMetadata, callerRange string, hasProxy bool, onBytes func(int64)) (Transport, bool) {
	httpT := newHTTPTransport(session, onBytes)
	if meta.Xet != nil && !r.disableXet {
		return fallbackTransport{primary: xetTransport{descriptor: *meta.Xet}, fallback: httpT}, true
	}
	if r.enableTurbo && meta.Size >= turboSizeThreshold && callerRange == "" && !hasProxy {
		return fallbackTransport{primary: turboTransport{}, fallback: httpT}, true
	}
	return httpT, false
}
