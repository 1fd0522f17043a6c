package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a download failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindUnsupportedPlatform
	KindFetch
	KindNoMasterPlaylist
	KindIO
	KindMux
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindUnsupportedPlatform:
		return "unsupported platform"
	case KindFetch:
		return "fetch failed"
	case KindNoMasterPlaylist:
		return "no master playlist"
	case KindIO:
		return "io error"
	case KindMux:
		return "mux failed"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is checks. A *Error matches the sentinel of its kind.
var (
	ErrInvalidInput        = errors.New(KindInvalidInput.String())
	ErrUnsupportedPlatform = errors.New(KindUnsupportedPlatform.String())
	ErrFetch               = errors.New(KindFetch.String())
	ErrNoMasterPlaylist    = errors.New(KindNoMasterPlaylist.String())
	ErrIO                  = errors.New(KindIO.String())
	ErrMux                 = errors.New(KindMux.String())
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindUnsupportedPlatform:
		return ErrUnsupportedPlatform
	case KindFetch:
		return ErrFetch
	case KindNoMasterPlaylist:
		return ErrNoMasterPlaylist
	case KindIO:
		return ErrIO
	case KindMux:
		return ErrMux
	}
	return nil
}

// Error is a classified failure from one pipeline step.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can write errors.Is(err, ErrFetch).
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
