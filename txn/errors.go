package txn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	// WrongState is a lifecycle call made in a state that does not allow it.
	WrongState Kind = iota + 1
	// NotAligned is a component call for a transaction other than the one
	// its session was begun with.
	NotAligned
	// Shutdown is any use of a coordinator after Shutdown.
	Shutdown
	// Durability is a failure to make a commit durable, or to apply one.
	Durability
	// Config is a change to the component set or listeners after Start.
	Config
	// Interrupted is a blocking begin that gave up.
	Interrupted
	// Component is an error returned by a component callback.
	Component
)

func (k Kind) String() string {
	switch k {
	case WrongState:
		return "wrong state"
	case NotAligned:
		return "not aligned"
	case Shutdown:
		return "shutdown"
	case Durability:
		return "durability"
	case Config:
		return "config"
	case Interrupted:
		return "interrupted"
	case Component:
		return "component"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("txn: %s: %s", e.Kind, e.Msg)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrPromoteUnsupported is returned for any attempt to turn a reader into a
// writer.
var ErrPromoteUnsupported = &Error{Kind: WrongState, Msg: "promotion of a read transaction is not supported"}

// newErr records the stack at the point a cause is turned into an *Error;
// print the cause with %+v to see it.
func newErr(k Kind, cause error, format string, a ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...), Cause: errors.WithStack(cause)}
}

func stateErr(what string, actual TxnState, expected ...TxnState) error {
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = s.String()
	}
	msg := fmt.Sprintf("%s: state is %s, expected %s",
		what, actual, strings.Join(names, " or "))
	return &Error{Kind: WrongState, Msg: msg}
}

// RootCause is the innermost cause of err, looking through *Error values.
func RootCause(err error) error {
	for {
		e, ok := errors.Cause(err).(*Error)
		if !ok || e.Cause == nil {
			return errors.Cause(err)
		}
		err = e.Cause
	}
}

// IsKind reports whether err, or anything it wraps, is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return false
		}
	}
	return false
}
