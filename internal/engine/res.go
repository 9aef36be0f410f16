// SPDX-License-Identifier: Apache-2.0

package engine

import "strconv"

// Res is a raw engine result code. Zero means success.
type Res int

const (
	ResOK          Res = 0
	ResFail        Res = 1
	ResResource    Res = 2
	ResMemory      Res = 3
	ResLimit       Res = 4
	ResUnimpl      Res = 5
	ResIO          Res = 6
	ResCommitLimit Res = 7
	ResParam       Res = 8
)

func (r Res) String() string {
	switch r {
	case ResOK:
		return "OK"
	case ResFail:
		return "FAIL"
	case ResResource:
		return "RESOURCE"
	case ResMemory:
		return "MEMORY"
	case ResLimit:
		return "LIMIT"
	case ResUnimpl:
		return "UNIMPL"
	case ResIO:
		return "IO"
	case ResCommitLimit:
		return "COMMIT_LIMIT"
	case ResParam:
		return "PARAM"
	}
	return "RES(" + strconv.Itoa(int(r)) + ")"
}
