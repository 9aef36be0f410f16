// SPDX-License-Identifier: Apache-2.0

// Package tree is an object format for binary trees of integers.
//
// Every object starts with a tag word:
//
//	node        [tagNode][left][right][value]
//	forwarding  [tagFwd][size][new]
//	pad1        [tagPad1]               one word
//	pad         [tagPad][size]
package tree

import (
	"github.com/wundergraph/go-mps"
)

const (
	tagNode uintptr = iota + 1
	tagFwd
	tagPad1
	tagPad
)

const (
	word = mps.WordSize

	// Align is the alignment of every tree object.
	Align = word
	// NodeSize is the size of a node.
	NodeSize = 4 * word
)

// fixedSize holds the size of each tag's object, or 0 where the size is
// stored in the object's second word.
var fixedSize = [...]uintptr{
	tagNode: NodeSize,
	tagFwd:  0,
	tagPad1: word,
	tagPad:  0,
}

func tag(p mps.Addr) uintptr {
	return mps.LoadWord(p)
}

// Format implements mps.Format for tree objects.
type Format struct{}

var _ mps.Format = Format{}

// Scan fixes the children of every node in [base, limit).
func (Format) Scan(ss *mps.ScanState, base, limit mps.Addr) error {
	return ss.FixWith(func(fs *mps.FixState) error {
		for p := base; p < limit; p = skip(p) {
			if tag(p) != tagNode {
				continue
			}
			for _, slot := range [...]mps.Addr{p + word, p + 2*word} {
				ref := mps.LoadAddr(slot)
				if ref == 0 || !fs.ShouldFix(ref) {
					continue
				}
				if err := fs.Fix(&ref); err != nil {
					return err
				}
				mps.StoreAddr(slot, ref)
			}
		}
		return nil
	})
}

// Skip returns the address past the object at p. p must be formatted: a
// node, a forwarding marker or padding. Skip panics on anything else, which
// only memory that was never formatted can hold.
func (Format) Skip(p mps.Addr) mps.Addr {
	return skip(p)
}

func skip(p mps.Addr) mps.Addr {
	t := tag(p)
	if t == 0 || int(t) >= len(fixedSize) {
		panic("tree: bad object tag")
	}
	if size := fixedSize[t]; size != 0 {
		return p + mps.Addr(size)
	}
	return p + mps.Addr(mps.LoadWord(p+word))
}

// Forward turns the object at old into a forwarding marker to new.
func (Format) Forward(old, new mps.Addr) {
	size := uintptr(skip(old) - old)
	mps.StoreWord(old, tagFwd)
	mps.StoreWord(old+word, size)
	mps.StoreAddr(old+2*word, new)
}

// IsForwarded returns the forwarding address of a forwarding marker.
func (Format) IsForwarded(p mps.Addr) (mps.Addr, bool) {
	if tag(p) != tagFwd {
		return 0, false
	}
	return mps.LoadAddr(p + 2*word), true
}

// Pad formats [p, p+size) as padding.
func (Format) Pad(p mps.Addr, size uintptr) {
	if size == word {
		mps.StoreWord(p, tagPad1)
		return
	}
	mps.StoreWord(p, tagPad)
	mps.StoreWord(p+word, size)
}

// InitNode formats p as a childless node holding value.
func InitNode(p mps.Addr, value uint64) {
	mps.StoreWord(p, tagNode)
	mps.StoreAddr(p+word, 0)
	mps.StoreAddr(p+2*word, 0)
	mps.StoreWord(p+3*word, uintptr(value))
}

// IsNode reports whether p holds a node.
func IsNode(p mps.Addr) bool {
	return tag(p) == tagNode
}

// Left returns the left child of node p.
func Left(p mps.Addr) mps.Addr { return mps.LoadAddr(p + word) }

// Right returns the right child of node p.
func Right(p mps.Addr) mps.Addr { return mps.LoadAddr(p + 2*word) }

// Value returns the value of node p.
func Value(p mps.Addr) uint64 { return uint64(mps.LoadWord(p + 3*word)) }

// SetChildren links left and right under node p.
func SetChildren(p, left, right mps.Addr) {
	mps.StoreAddr(p+word, left)
	mps.StoreAddr(p+2*word, right)
}
