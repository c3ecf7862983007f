// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dive

import (
	"errors"
	"fmt"
)

// Kind classifies errors returned by transports and protocols.
type Kind uint8

//go:generate go tool golang.org/x/tools/cmd/stringer -type Kind -trimprefix Kind
const (
	KindNoDevice    Kind = iota // discovery found nothing matching
	KindIO                      // transport level failure
	KindTimeout                 // no response within the window
	KindProtocol                // unexpected ack, reply, sequence or magic
	KindDataFormat              // checksum mismatch or malformed packet
	KindUnsupported             // no implementation for the request
	KindCancelled               // the operation was cancelled
)

// Sentinel errors for use with errors.Is.
var (
	ErrNoDevice    = &Error{Kind: KindNoDevice}
	ErrIO          = &Error{Kind: KindIO}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrDataFormat  = &Error{Kind: KindDataFormat}
	ErrUnsupported = &Error{Kind: KindUnsupported}
	ErrCancelled   = &Error{Kind: KindCancelled}
)

// ErrSessionLost marks a failure that leaves the session unusable until
// the next Connect. Errors wrapping it are never retried.
var ErrSessionLost = errors.New("session lost")

// Error is a classified device communication error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Errorf returns a new *Error of the given kind for the operation op.
// The message is formatted with fmt.Errorf so %w verbs are honoured.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind with no
// operation or cause, making the package sentinels match any error of
// their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation is reported as KindCancelled and unclassified errors as
// KindIO.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if isContextErr(err) {
		return KindCancelled, true
	}
	return KindIO, false
}
