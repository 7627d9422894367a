// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compileerr defines the two classes of failures raised while fusing and lowering a group:
// invariant violations (the input graph is malformed, or there is a bug in the fuser) and
// not-implemented features (the input is valid but not supported yet).
//
// Deep inside the compiler failures are raised as panics with an error value (see Invariantf and
// NotImplementedf), and the public entry points convert them back to errors with Catch.
// Every raised error wraps exactly one of ErrInvariant or ErrNotImplemented.
package compileerr

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

var (
	// ErrInvariant is wrapped by all errors caused by malformed input or internal inconsistencies.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotImplemented is wrapped by all errors caused by valid but unsupported inputs.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedMerge is raised when two patterns that cannot be merged are asked to be merged.
	// It is an invariant error.
	ErrUnsupportedMerge = errors.Wrap(ErrInvariant, "unsupported pattern merge")
)

// Invariantf panics with an error wrapping ErrInvariant.
func Invariantf(format string, args ...any) {
	panic(errors.Wrapf(ErrInvariant, format, args...))
}

// NotImplementedf panics with an error wrapping ErrNotImplemented.
func NotImplementedf(format string, args ...any) {
	panic(errors.Wrapf(ErrNotImplemented, format, args...))
}

// UnsupportedMergef panics with an error wrapping ErrUnsupportedMerge.
func UnsupportedMergef(format string, args ...any) {
	panic(errors.Wrapf(ErrUnsupportedMerge, format, args...))
}

// Check panics with an invariant error if cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		Invariantf(format, args...)
	}
}

// PanicOnError re-raises err, if not nil, as an invariant error.
// Errors that already wrap one of the sentinel errors are re-raised unchanged.
func PanicOnError(err error) {
	if err == nil {
		return
	}
	if IsInvariant(err) || IsNotImplemented(err) {
		panic(err)
	}
	panic(errors.Wrap(ErrInvariant, err.Error()))
}

// Catch runs fn and returns any error it panicked with.
// Panics with values that are not errors are not caught.
func Catch(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

// IsInvariant returns whether err is (or wraps) an invariant error.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// IsNotImplemented returns whether err is (or wraps) a not-implemented error.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}
