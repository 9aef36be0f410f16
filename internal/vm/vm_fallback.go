// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package vm

import "unsafe"

const fallbackPageSize = 4096

// Reserve allocates the region from the Go heap when mmap is not available.
// The Go collector never moves heap objects, so addresses stay stable for as
// long as the returned slice is reachable.
func Reserve(size uintptr) ([]byte, error) {
	if size == 0 || size > uintptr(^uint(0)>>1)-fallbackPageSize {
		return nil, ErrBadSize
	}
	raw := make([]byte, size+fallbackPageSize)
	off := uintptr(0)
	if base := uintptr(unsafe.Pointer(unsafe.SliceData(raw))); base%fallbackPageSize != 0 {
		off = fallbackPageSize - base%fallbackPageSize
	}
	return raw[off : off+size : off+size], nil
}

// Release drops the region.
func Release(data []byte) error {
	return nil
}

// Decommit zeroes b, matching what a decommitted page reads as.
func Decommit(b []byte) error {
	clear(b)
	return nil
}

// PageSize returns the grain used by the fallback reservation.
func PageSize() uintptr {
	return fallbackPageSize
}
