package util

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	expect "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.testfarm.build/infra/go/testutils/unittest"
)

func TestIsNil(t *testing.T) {
	unittest.SmallTest(t)
	expect.True(t, IsNil(nil))
	expect.True(t, IsNil((*bytes.Buffer)(nil)))
	expect.True(t, IsNil((chan bool)(nil)))
	expect.False(t, IsNil(&bytes.Buffer{}))
	expect.False(t, IsNil(0))
	expect.False(t, IsNil(""))
}

func TestWithWriteFile(t *testing.T) {
	unittest.SmallTest(t)
	dir := t.TempDir()
	fname := filepath.Join(dir, "out.txt")
	require.NoError(t, WithWriteFile(fname, func(w io.Writer) error {
		_, err := w.Write([]byte("hello\n"))
		return err
	}))
	b, err := os.ReadFile(fname)
	require.NoError(t, err)
	expect.Equal(t, "hello\n", string(b))
}

func TestWithWriteFileError(t *testing.T) {
	unittest.SmallTest(t)
	dir := t.TempDir()
	fname := filepath.Join(dir, "out.txt")
	writeErr := io.ErrClosedPipe
	err := WithWriteFile(fname, func(w io.Writer) error {
		return writeErr
	})
	expect.Equal(t, writeErr, err)
}
