// Package util holds small helpers shared across the agent.
package util

import (
	"io"
	"os"
	"reflect"

	"go.testfarm.build/infra/go/sklog"
)

// Close closes the given Closer and logs any error. Convenient for deferring
// Close on things like files where the error is worth a log line but nothing
// more.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		sklog.Errorf("Failed to Close(): %v", err)
	}
}

// LogErr logs err if it is non-nil. Intended for calls whose failure is
// interesting but not actionable, e.g.:
//
//	util.LogErr(os.Remove(scratchFile))
func LogErr(err error) {
	if err != nil {
		stack := sklog.CallStack(1, 2)
		sklog.Errorf("Error returned from called function at %s: %s", stack[0].String(), err)
	}
}

// RemoveAll removes the given path and logs any error.
func RemoveAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		sklog.Errorf("Failed to RemoveAll(%s): %v", path, err)
	}
}

// IsNil returns true if i is nil or an interface containing a nil value.
// Guards against the non-nil-interface-to-nil-pointer gotcha.
func IsNil(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// WithWriteFile writes to the given file via the given function. The file is
// created if necessary and closed when the function returns; a close error is
// reported if the write itself succeeded.
func WithWriteFile(filename string, fn func(w io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	err = fn(f)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}
