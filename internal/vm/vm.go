// SPDX-License-Identifier: Apache-2.0

// Package vm reserves and releases the address space an arena manages.
package vm

import "errors"

var (
	// ErrNoMemory indicates the operating system refused the reservation for lack of memory.
	ErrNoMemory = errors.New("vm: out of memory")

	// ErrBadSize indicates a zero or unrepresentable reservation size.
	ErrBadSize = errors.New("vm: bad reservation size")
)

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
