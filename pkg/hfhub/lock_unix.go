// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package hfhub

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func acquireFlock(ctx context.Context, f *os.File) error {
	return pollFlock(ctx, func() (bool, error) {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return true, nil
		}
		return false, err
	})
}

func releaseFlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
