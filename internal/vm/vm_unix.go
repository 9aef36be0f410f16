// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd

package vm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of private anonymous memory. The pages are not
// touched here, so the operating system only backs the ones that get used.
func Reserve(size uintptr) ([]byte, error) {
	if size == 0 || size > uintptr(^uint(0)>>1) {
		return nil, ErrBadSize
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("%w: reserve %d bytes: %v", ErrNoMemory, size, err)
		}
		return nil, fmt.Errorf("vm: reserve %d bytes: %w", size, err)
	}
	return data, nil
}

// Release unmaps a region returned by Reserve.
func Release(data []byte) error {
	if data == nil {
		return nil
	}
	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// Decommit hands the pages backing b back to the operating system. The range
// stays mapped and reads as zero afterwards.
func Decommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

// PageSize returns the operating system page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}
