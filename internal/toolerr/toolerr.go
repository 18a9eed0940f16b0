package toolerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Kind classifies a failure so the reasoning engine can adapt instead of aborting.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindAmbiguousTarget  Kind = "ambiguous_target"
	KindInvalidPattern   Kind = "invalid_pattern"
	KindInvalidArgument  Kind = "invalid_argument"
	KindTimeout          Kind = "timeout"
	KindUnknownAgentType Kind = "unknown_agent_type"
	KindRejected         Kind = "rejected"
	KindIOFailure        Kind = "io_failure"
	KindInternal         Kind = "internal"
)

// Error is a classified operation failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Msg != "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Msg: fmt.Sprintf("file '%s' not found", path)}
}

// IO wraps a filesystem error, mapping missing paths to KindNotFound.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return NotFound(op, path)
	}
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindIOFailure
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Recoverable reports whether err should be handed back to the reasoning engine
// rather than aborting the step.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case "", KindInternal:
		return false
	default:
		return true
	}
}
