// Package apperr classifies the errors that cross component boundaries so the
// HTTP and websocket surfaces can report them consistently.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the classification of an error for handling purposes.
type Kind string

const (
	KindAccessDenied        Kind = "ACCESS_DENIED"
	KindNotFound            Kind = "NOT_FOUND"
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	KindTimeout             Kind = "TIMEOUT"
	KindInvalid             Kind = "INVALID_REQUEST"
	KindInternal            Kind = "INTERNAL"
)

// Sentinels for errors.Is matching. Every *Error of a given kind matches the
// corresponding sentinel.
var (
	ErrAccessDenied        = errors.New("access denied")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrInvalid             = errors.New("invalid request")
)

// Error carries a Kind plus the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindAccessDenied:
		return ErrAccessDenied
	case KindNotFound:
		return ErrNotFound
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case KindTimeout:
		return ErrTimeout
	case KindInvalid:
		return ErrInvalid
	default:
		return nil
	}
}

// AccessDenied reports an out-of-scope entity.
func AccessDenied(op, format string, args ...any) error {
	return &Error{Kind: KindAccessDenied, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an entity id unknown to the hierarchy.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Invalid reports a malformed request.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a store or cache failure.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindUpstreamUnavailable, Op: op, Err: err}
}

// FromContext turns an expired deadline into a Timeout error and leaves other
// errors untouched.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return &Error{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
	}
	return err
}

// KindOf returns the classification of err, KindInternal for unclassified
// errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
