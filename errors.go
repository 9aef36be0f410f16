// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"errors"
	"fmt"

	"github.com/wundergraph/go-mps/internal/engine"
)

var (
	// ErrFail is a catch-all failure of an operation.
	ErrFail = errors.New("mps: operation failed")
	// ErrIO indicates an input/output failure.
	ErrIO = errors.New("mps: I/O error")
	// ErrLimit indicates an internal limit was reached. It is not fatal.
	ErrLimit = errors.New("mps: limit reached")
	// ErrMemory indicates the operating system could not supply memory.
	ErrMemory = errors.New("mps: out of memory")
	// ErrResource indicates a resource other than memory ran out, such as
	// address space.
	ErrResource = errors.New("mps: out of resources")
	// ErrUnimplemented indicates the operation is not supported.
	ErrUnimplemented = errors.New("mps: unimplemented")
	// ErrCommitLimitExceeded indicates the arena's commit limit would be
	// exceeded.
	ErrCommitLimitExceeded = errors.New("mps: commit limit exceeded")
	// ErrInvalidParam indicates an invalid argument or a violated
	// precondition.
	ErrInvalidParam = errors.New("mps: invalid parameter")
	// ErrUnknown matches any *UnknownError.
	ErrUnknown = errors.New("mps: unknown result code")
)

// UnknownError carries a result code outside the known taxonomy.
type UnknownError struct {
	Code int
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("mps: unknown result code %d", e.Code)
}

// Is reports whether target is ErrUnknown.
func (e *UnknownError) Is(target error) bool {
	return target == ErrUnknown
}

var resErrors = map[engine.Res]error{
	engine.ResFail:        ErrFail,
	engine.ResResource:    ErrResource,
	engine.ResMemory:      ErrMemory,
	engine.ResLimit:       ErrLimit,
	engine.ResUnimpl:      ErrUnimplemented,
	engine.ResIO:          ErrIO,
	engine.ResCommitLimit: ErrCommitLimitExceeded,
	engine.ResParam:       ErrInvalidParam,
}

// fromRes maps a raw result code to an error. ResOK maps to nil.
func fromRes(res engine.Res) error {
	if res == engine.ResOK {
		return nil
	}
	if err, ok := resErrors[res]; ok {
		return err
	}
	return &UnknownError{Code: int(res)}
}

// wrapRes maps res and adds op as context.
func wrapRes(op string, res engine.Res) error {
	err := fromRes(res)
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ResultCode returns the raw result code err stands for: 0 for nil, the
// code of a taxonomy error, the carried code of an *UnknownError, and the
// generic failure code for anything else.
func ResultCode(err error) int {
	if err == nil {
		return int(engine.ResOK)
	}
	var unknown *UnknownError
	if errors.As(err, &unknown) {
		return unknown.Code
	}
	for res, e := range resErrors {
		if errors.Is(err, e) {
			return int(res)
		}
	}
	return int(engine.ResFail)
}
