// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package hfhub

import (
	"context"
	"os"

	"golang.org/x/sys/windows"
)

func acquireFlock(ctx context.Context, f *os.File) error {
	return pollFlock(ctx, func() (bool, error) {
		ol := new(windows.Overlapped)
		err := windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
		if err == nil {
			return false, nil
		}
		if err == windows.ERROR_LOCK_VIOLATION || err == windows.ERROR_IO_PENDING {
			return true, nil
		}
		return false, err
	})
}

func releaseFlock(f *os.File) {
	ol := new(windows.Overlapped)
	_ = windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
