package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed. Every kind is terminal for the attempt.
type Kind int

const (
	InvalidConfiguration Kind = iota + 1
	NetworkFailure
	DecodeFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidConfiguration:
		return `invalid configuration`
	case NetworkFailure:
		return `network failure`
	case DecodeFailure:
		return `decode failure`
	}
	return fmt.Sprintf(`kind(%d)`, int(k))
}

var (
	ErrInvalidConfiguration = errors.New(`invalid configuration`)
	ErrNetwork              = errors.New(`network failure`)
	ErrDecode               = errors.New(`decode failure`)
)

// Error is returned by Client.Fetch for every failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + `: ` + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidConfiguration:
		return e.Kind == InvalidConfiguration
	case ErrNetwork:
		return e.Kind == NetworkFailure
	case ErrDecode:
		return e.Kind == DecodeFailure
	}
	return false
}

// KindOf reports the kind of a fetch error, or 0 if err is not one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
