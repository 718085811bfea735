// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package errors defines a small set of error codes used across the
// backend and codec layers, and a typed error carrying one of them.
//
// It mirrors the pattern of wrapping a stable code with a free-form
// message rather than defining one sentinel error per failure mode.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code int

const (
	Unspecified Code = iota
	// NotFound indicates the requested task or result does not exist.
	NotFound
	// FailedPrecondition indicates an input or state precondition did not
	// hold (e.g. an invalid group name). Lost-lease CAS misses are not
	// reported with it: backends return (false, nil) for those.
	FailedPrecondition
	// Internal indicates an unexpected backend or codec failure.
	Internal
	// Unavailable indicates a transient backend error that the caller
	// should retry with backoff; it is never surfaced as a task failure.
	Unavailable
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not_found"
	case FailedPrecondition:
		return "failed_precondition"
	case Internal:
		return "internal"
	case Unavailable:
		return "unavailable"
	default:
		return "unspecified"
	}
}

// Error is a taskkit-internal error carrying a stable Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error with the given code and message, optionally wrapping
// an underlying error.
func E(code Code, message string, wrapped ...error) *Error {
	var err error
	if len(wrapped) > 0 {
		err = wrapped[0]
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the Code carried by err, or Unspecified if err is nil or
// does not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unspecified
}
