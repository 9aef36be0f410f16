// SPDX-License-Identifier: Apache-2.0

package mps

import "unsafe"

// WordSize is the size of a machine word in bytes.
const WordSize = 32 << (^uint(0) >> 63) / 8

// Managed memory lives outside the Go heap, so a plain word load or store
// through an Addr is all formats and mutators need. addr must be word
// aligned and inside memory the caller owns.

// LoadWord reads the word at addr.
func LoadWord(addr Addr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// StoreWord writes v to the word at addr.
func StoreWord(addr Addr, v uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = v
}

// LoadAddr reads the reference stored at addr.
func LoadAddr(addr Addr) Addr {
	return *(*Addr)(unsafe.Pointer(addr))
}

// StoreAddr writes the reference v to addr.
func StoreAddr(addr Addr, v Addr) {
	*(*Addr)(unsafe.Pointer(addr)) = v
}

// Bytes returns the n bytes of managed memory starting at addr.
func Bytes(addr Addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
