// SPDX-License-Identifier: Apache-2.0

package engine

import "unsafe"

func addrOf(b []byte) Addr {
	return Addr(unsafe.Pointer(unsafe.SliceData(b)))
}
