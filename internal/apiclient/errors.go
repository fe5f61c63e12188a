package apiclient

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindNotImplemented Kind = iota + 1
	KindNetwork
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindNotImplemented:
		return "not_implemented"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrAuth           = &Error{Kind: KindAuth}
)

// Error is returned by every client method. Callers choose a fallback by Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "wholesaler api"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

func notImplemented(op string) error {
	return &Error{
		Kind: KindNotImplemented,
		Op:   op,
		Err:  fmt.Errorf("the wholesaler has not published a catalog API"),
	}
}
