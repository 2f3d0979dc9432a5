package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error by how the booking flows react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation blocks a transition locally; no request was made.
	KindValidation
	// KindRemote is a non-2xx backend answer carrying a message for the user.
	KindRemote
	// KindNetwork is a transport failure or timeout.
	KindNetwork
	// KindStale marks a response that arrived for an abandoned selection.
	KindStale
	// KindUnauthorized means the credential was rejected and the session is gone.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindNetwork:
		return "network"
	case KindStale:
		return "stale"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// NetworkMessage is shown to users instead of raw transport errors.
const NetworkMessage = "Нет соединения с сервером, попробуйте ещё раз"

// CustomError represents a custom error with additional arguments and wrapping capability.
type CustomError struct {
	message string
	kind    Kind
	args    map[string]interface{}
	wrapped error
}

// New creates a new CustomError instance.
func New(message string) *CustomError {
	return &CustomError{
		message: message,
		args:    make(map[string]interface{}),
	}
}

// Validation creates a CustomError of KindValidation.
func Validation(message string) *CustomError {
	return New(message).Kind(KindValidation)
}

// Remote creates a CustomError of KindRemote.
func Remote(message string) *CustomError {
	return New(message).Kind(KindRemote)
}

// Network creates a CustomError of KindNetwork.
func Network(message string) *CustomError {
	return New(message).Kind(KindNetwork)
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	return e.fullErrorString()
}

// Message returns the bare message without args or wrapped errors.
func (e *CustomError) Message() string {
	return e.message
}

// Kind sets the error kind.
func (e *CustomError) Kind(k Kind) *CustomError {
	e.kind = k
	return e
}

// Arg adds an argument to the error.
func (e *CustomError) Arg(key string, value interface{}) *CustomError {
	e.args[key] = value
	return e
}

// Wrap wraps another error (can be of the same type or a standard error).
func (e *CustomError) Wrap(err error) *CustomError {
	if err != nil {
		e.wrapped = err
	}
	return e
}

// Unwrap returns the wrapped error if any.
func (e *CustomError) Unwrap() error {
	return e.wrapped
}

// KindOf returns the first non-unknown kind found on the wrap chain.
func KindOf(err error) Kind {
	for err != nil {
		var ce *CustomError
		if !errors.As(err, &ce) {
			return KindUnknown
		}
		if ce.kind != KindUnknown {
			return ce.kind
		}
		err = ce.wrapped
	}
	return KindUnknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// UserMessage returns the text a user should see for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindNetwork:
		return NetworkMessage
	case KindUnauthorized:
		return "Сессия истекла, нажмите /start"
	}
	for cur := err; cur != nil; {
		var ce *CustomError
		if !errors.As(cur, &ce) {
			break
		}
		if ce.kind != KindUnknown {
			return ce.message
		}
		cur = ce.wrapped
	}
	return "Что-то пошло не так"
}

// fullErrorString builds the error string in the desired format:
// "{msg: <message>, kind: <kind>, args: <args>, wrappedError: {<wrapped error>}}".
func (e *CustomError) fullErrorString() string {
	var builder strings.Builder

	builder.WriteString("{msg: ")
	builder.WriteString(e.message)

	if e.kind != KindUnknown {
		builder.WriteString(", kind: ")
		builder.WriteString(e.kind.String())
	}

	if len(e.args) > 0 {
		keys := make([]string, 0, len(e.args))
		for k := range e.args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%v", k, e.args[k]))
		}
		builder.WriteString(", args: map[" + strings.Join(parts, " ") + "]")
	}

	if e.wrapped != nil {
		wrappedErr := &CustomError{}
		if errors.As(e.wrapped, &wrappedErr) {
			builder.WriteString(fmt.Sprintf(", wrappedError: %s", wrappedErr.fullErrorString()))
		} else {
			builder.WriteString(fmt.Sprintf(", wrappedError: {%v}", e.wrapped.Error()))
		}
	}

	builder.WriteString("}")

	return builder.String()
}
