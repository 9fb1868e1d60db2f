// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package status carries the error kinds the catalog's write pipeline and
// bootstrap path surface to callers: Configuration and Corruption errors are
// fatal at startup, ServiceUnavailable/TimedOut are transient,
// InvalidArgument/InvalidSchema are per-request outcomes rejected before
// consensus, and AlreadyPresent/NotFound are per-row outcomes of a
// committed write's apply.
package status

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// Kind classifies an Error the way the write pipeline and bootstrap reason
// about failures (spec §7).
type Kind int

const (
	// Unknown is the zero value; never returned by the constructors below.
	Unknown Kind = iota
	// Configuration covers missing/invalid flags or an unresolvable peer.
	// Fatal at startup.
	Configuration
	// Corruption covers unexpected on-disk schema, serialization failure, or
	// a log/commit mismatch during bootstrap. Fatal for the affected tablet.
	Corruption
	// ServiceUnavailable covers a full thread-pool queue or consensus not
	// yet running.
	ServiceUnavailable
	// InvalidArgument is rejected at Prepare and reported to the caller; it
	// never reaches consensus.
	InvalidArgument
	// InvalidSchema is InvalidArgument's alter-schema counterpart.
	InvalidSchema
	// TimedOut is an elapsed deadline on a synchronous wait.
	TimedOut
	// IOError covers disk or network failures.
	IOError
	// AlreadyPresent is a per-row apply outcome: INSERT of an existing key.
	AlreadyPresent
	// NotFound is a per-row apply outcome: UPDATE/DELETE of a missing key.
	NotFound
	// Incomplete marks a batch where some rows failed and some may have
	// succeeded. No code in this module returns it:
	// (*syscatalog.Table).AddAndUpdateTablets reports a partial batch
	// through the response's PerRowErrors.
	Incomplete
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "Configuration"
	case Corruption:
		return "Corruption"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidSchema:
		return "InvalidSchema"
	case TimedOut:
		return "TimedOut"
	case IOError:
		return "IOError"
	case AlreadyPresent:
		return "AlreadyPresent"
	case NotFound:
		return "NotFound"
	case Incomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// Error is the catalog's typed error. It wraps an optional cause so
// errors.Is/errors.As see through it; it has no Cause method, so
// github.com/pkg/errors.Cause stops at it.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Unwrap lets errors.Is/errors.As traverse into the cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	if !ok {
		return false
	}
	return se.Kind == kind
}

// prefix mimics util.Errorf's "file:line: " prefix, skipping this package's
// own frames to name the actual caller.
func prefix() string {
	if _, file, line, ok := runtime.Caller(2); ok {
		return fmt.Sprintf("%s:%d: ", filepath.Base(file), line)
	}
	return ""
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: prefix() + fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind and a message, keeping err as the cause with a
// stack recorded by github.com/pkg/errors.WithStack (reachable through
// Unwrap); formatting the returned error with %+v prints only its message.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: prefix() + msg, cause: errors.WithStack(err)}
}

func Configurationf(format string, args ...interface{}) error {
	return newf(Configuration, format, args...)
}

func Corruptionf(format string, args ...interface{}) error {
	return newf(Corruption, format, args...)
}

func ServiceUnavailablef(format string, args ...interface{}) error {
	return newf(ServiceUnavailable, format, args...)
}

func InvalidArgumentf(format string, args ...interface{}) error {
	return newf(InvalidArgument, format, args...)
}

func InvalidSchemaf(format string, args ...interface{}) error {
	return newf(InvalidSchema, format, args...)
}

func TimedOutf(format string, args ...interface{}) error {
	return newf(TimedOut, format, args...)
}

func IOErrorf(format string, args ...interface{}) error {
	return newf(IOError, format, args...)
}

func AlreadyPresentf(format string, args ...interface{}) error {
	return newf(AlreadyPresent, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return newf(NotFound, format, args...)
}
