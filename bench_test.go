// SPDX-License-Identifier: Apache-2.0

package mps_test

import (
	"testing"

	"github.com/wundergraph/go-mps"
	"github.com/wundergraph/go-mps/internal/tree"
)

func BenchmarkAllocWith(b *testing.B) {
	for _, copying := range []bool{false, true} {
		name := "AMS"
		if copying {
			name = "AMC"
		}
		b.Run(name, func(b *testing.B) {
			h := newHarness(b, copying, mps.WithCollectionTrigger(4<<20))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := mps.AllocWith(h.ap, tree.NodeSize, func(p mps.Addr) { tree.InitNode(p, uint64(i)) }); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBinaryTree(b *testing.B) {
	h := newHarness(b, false, mps.WithCollectionTrigger(8<<20))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := h.b.BottomUp(10); err != nil {
			b.Fatal(err)
		}
		h.stack.Pop()
	}
}
