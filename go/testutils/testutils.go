// Convenience utilities for testing.
package testutils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"testing"

	assert "github.com/stretchr/testify/require"
)

// TestDataDir returns the path to the caller's testdata directory, which is
// assumed to be "<path to caller dir>/testdata".
func TestDataDir() (string, error) {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("Could not find test data dir: runtime.Caller() failed.")
	}
	for skip := 0; ; skip++ {
		_, file, _, ok := runtime.Caller(skip)
		if !ok {
			return "", fmt.Errorf("Could not find test data dir: runtime.Caller() failed.")
		}
		if file != thisFile {
			return path.Join(path.Dir(file), "testdata"), nil
		}
	}
}

// ReadFile reads a file from the caller's testdata directory.
func ReadFile(filename string) (string, error) {
	dir, err := TestDataDir()
	if err != nil {
		return "", fmt.Errorf("Could not read %s: %v", filename, err)
	}
	b, err := ioutil.ReadFile(path.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("Could not read %s: %v", filename, err)
	}
	return string(b), nil
}

// MustReadFile reads a file from the caller's testdata directory and panics
// on error.
func MustReadFile(filename string) string {
	s, err := ReadFile(filename)
	if err != nil {
		panic(err)
	}
	return s
}

// ReadJsonFile reads a JSON file from the caller's testdata directory into
// the given interface.
func ReadJsonFile(filename string, dest interface{}) error {
	dir, err := TestDataDir()
	if err != nil {
		return err
	}
	b, err := ioutil.ReadFile(path.Join(dir, filename))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

// WriteFile writes the given contents to the given file path, reporting any
// error.
func WriteFile(t assert.TestingT, filename, contents string) {
	assert.NoErrorf(t, ioutil.WriteFile(filename, []byte(contents), os.ModePerm), "Unable to write to file %s", filename)
}

// MkdirAll creates the given directory tree, reporting any error.
func MkdirAll(t assert.TestingT, dir string) {
	assert.NoError(t, os.MkdirAll(dir, os.ModePerm))
}

// Remove attempts to remove the given file and asserts that no error is
// returned.
func Remove(t assert.TestingT, fp string) {
	assert.NoError(t, os.Remove(fp))
}

// RemoveAll attempts to remove the given directory and asserts that no error
// is returned.
func RemoveAll(t assert.TestingT, fp string) {
	assert.NoError(t, os.RemoveAll(fp))
}

// TempDir is a wrapper for ioutil.TempDir. Returns the path to the directory
// and a cleanup function to defer.
func TempDir(t assert.TestingT) (string, func()) {
	d, err := ioutil.TempDir("", "testutils")
	assert.NoError(t, err)
	return d, func() {
		RemoveAll(t, d)
	}
}

// MarshalJSON encodes the given interface to a JSON string.
func MarshalJSON(t *testing.T, i interface{}) string {
	b, err := json.Marshal(i)
	assert.NoError(t, err)
	return string(b)
}

// AssertFileSize asserts that the file at the given path has the given size
// in bytes.
func AssertFileSize(t assert.TestingT, filename string, size int64) {
	st, err := os.Stat(filename)
	assert.NoError(t, err)
	assert.Equal(t, size, st.Size())
}

// AbsPath returns the absolute form of the given path, failing the test on
// error.
func AbsPath(t assert.TestingT, p string) string {
	abs, err := filepath.Abs(p)
	assert.NoError(t, err)
	return abs
}
