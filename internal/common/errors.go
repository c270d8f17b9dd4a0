// Copyright 2024 TxFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Error taxonomy shared by every layer of the engine. Primitives wrap the
// raw syscall failure in a PathError whose Err is one of these sentinels.
var (
	ErrNotFound               = errors.New("not found")
	ErrExists                 = errors.New("destination already exists")
	ErrSymlink                = errors.New("symbolic links are not supported")
	ErrPermission             = errors.New("permission denied")
	ErrReadOnly               = errors.New("read-only filesystem")
	ErrCrossDevice            = errors.New("cross-device operation")
	ErrUnsupported            = errors.New("operation not supported")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConcurrentModification = errors.New("path was modified concurrently")
	ErrIO                     = errors.New("I/O error")
	ErrLockPoisoned           = errors.New("history lock poisoned")
)

// PathError records the step and path a failure belongs to.
// Err is the taxonomy sentinel, Cause the underlying error (may be nil).
type PathError struct {
	Op    string
	Path  string
	Err   error
	Cause error
}

func (e *PathError) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Err.Error()
	if e.Cause != nil && e.Cause.Error() != e.Err.Error() {
		msg += " (" + e.Cause.Error() + ")"
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *PathError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// NewPathError builds a PathError with an explicit sentinel.
func NewPathError(op, path string, sentinel, cause error) error {
	return &PathError{Op: op, Path: path, Err: sentinel, Cause: cause}
}

// Wrap classifies err and attaches op and path. Nil stays nil, and errors
// that already carry a PathError are returned unchanged so the innermost
// step keeps its name.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: path, Err: Classify(err), Cause: err}
}

// Classify maps an error to its taxonomy sentinel.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isSentinel(err):
		for _, s := range sentinels {
			if errors.Is(err, s) {
				return s
			}
		}
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENOTDIR), errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.EEXIST), errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, fs.ErrExist):
		return ErrExists
	case errors.Is(err, syscall.ELOOP):
		return ErrSymlink
	case errors.Is(err, syscall.EROFS):
		return ErrReadOnly
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, fs.ErrPermission):
		return ErrPermission
	case errors.Is(err, syscall.EXDEV):
		return ErrCrossDevice
	case errors.Is(err, syscall.ENOSYS), errors.Is(err, syscall.ENOTSUP), errors.Is(err, errors.ErrUnsupported):
		return ErrUnsupported
	case errors.Is(err, syscall.EINVAL), errors.Is(err, fs.ErrInvalid):
		return ErrInvalidInput
	}
	return ErrIO
}

var sentinels = []error{
	ErrNotFound,
	ErrExists,
	ErrSymlink,
	ErrPermission,
	ErrReadOnly,
	ErrCrossDevice,
	ErrUnsupported,
	ErrInvalidInput,
	ErrConcurrentModification,
	ErrIO,
	ErrLockPoisoned,
}

func isSentinel(err error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// IsFallback reports whether err should send a move down the
// copy-then-delete path instead of surfacing.
func IsFallback(err error) bool {
	return errors.Is(err, ErrCrossDevice) || errors.Is(err, ErrUnsupported)
}

// Errorf is fmt.Errorf with the result classified under sentinel.
func Errorf(op, path string, sentinel error, format string, args ...any) error {
	return &PathError{Op: op, Path: path, Err: sentinel, Cause: fmt.Errorf(format, args...)}
}
