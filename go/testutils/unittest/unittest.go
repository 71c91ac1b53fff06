// Package unittest contains the size markers called at the top of every test
// so that suites can be filtered by cost.
package unittest

import (
	"testing"
)

// SmallTest marks a test (under 2 seconds) with no dependencies on external
// processes, networks, etc.
func SmallTest(t *testing.T) {}

// MediumTest marks a test (2-15 seconds) which may run subprocesses or touch
// the local network. Skipped with -short.
func MediumTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Not running medium tests in short mode.")
	}
}

// LargeTest marks a test (> 15 seconds) with significant reliance on external
// dependencies. Skipped with -short.
func LargeTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Not running large tests in short mode.")
	}
}
