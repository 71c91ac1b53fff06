// Package skerr provides error wrapping that records the call site at which
// an error was created or wrapped, so that log lines point at agent code
// rather than at the bottom of a library stack.
package skerr

import (
	"fmt"
	"runtime"
	"strings"
)

// StackTrace identifies one line of Go source.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// ErrorWithContext is an error plus the call site that produced it and an
// optional annotation message. The original error is preserved for
// errors.Is / errors.As.
type ErrorWithContext struct {
	Wrapped  error
	CallSite StackTrace
	Message  string
}

func (e *ErrorWithContext) Error() string {
	var sb strings.Builder
	if e.Message != "" {
		sb.WriteString(e.Message)
		if e.Wrapped != nil {
			sb.WriteString(": ")
		}
	}
	if e.Wrapped != nil {
		sb.WriteString(e.Wrapped.Error())
	}
	sb.WriteString(" At ")
	sb.WriteString(e.CallSite.String())
	return sb.String()
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Wrapped
}

// callSite returns the file and line of the caller's caller.
func callSite() StackTrace {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return StackTrace{File: "???", Line: 1}
	}
	if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return StackTrace{File: file, Line: line}
}

// Fmt creates a new error with the call site recorded, analogous to
// fmt.Errorf.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		CallSite: callSite(),
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap adds the call site to err. Returns nil if err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:  err,
		CallSite: callSite(),
	}
}

// Wrapf adds the call site and a formatted annotation to err. Returns nil if
// err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:  err,
		CallSite: callSite(),
		Message:  fmt.Sprintf(format, args...),
	}
}

// Unwrap returns the innermost non-ErrorWithContext error in err's chain,
// e.g. to compare against sentinel errors from other packages.
func Unwrap(err error) error {
	for {
		ewc, ok := err.(*ErrorWithContext)
		if !ok || ewc.Wrapped == nil {
			return err
		}
		err = ewc.Wrapped
	}
}
