// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package apperrors defines the error taxonomy shared by the stream cache,
// the stream manager and the WebSocket handler: NotFound, AlreadyExists,
// InvalidState, InvalidArgument, IoError and ProtocolError. Callers use
// errors.Is against the sentinels below, and errors.As against *IoErr to
// recover the failing operation's tag.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinels for the taxonomy. Wrap them with fmt.Errorf("...: %w", ErrX) to
// attach context while keeping errors.Is working.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidState   = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIoError        = errors.New("io error")
	ErrProtocolError  = errors.New("protocol error")
)

// IoErr carries the operation tag required for every IoError per the
// component contracts ("mmap", "resize", "write", "read", "flush").
type IoErr struct {
	Op  string
	Err error
}

func (e *IoErr) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IoErr) Unwrap() error {
	return e.Err
}

// Is reports true for ErrIoError so errors.Is(err, ErrIoError) works
// regardless of the wrapped operation.
func (e *IoErr) Is(target error) bool {
	return target == ErrIoError
}

// Io wraps err as an IoErr tagged with op.
func Io(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoErr{Op: op, Err: err}
}

// NotFoundf builds an ErrNotFound-wrapping error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// AlreadyExistsf builds an ErrAlreadyExists-wrapping error with a formatted message.
func AlreadyExistsf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrAlreadyExists)
}

// InvalidStatef builds an ErrInvalidState-wrapping error with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// InvalidArgumentf builds an ErrInvalidArgument-wrapping error with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// ProtocolErrorf builds an ErrProtocolError-wrapping error with a formatted message.
func ProtocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrProtocolError)
}
