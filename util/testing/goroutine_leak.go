// Package testing holds helpers shared by package tests.
package testing

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// CheckGoroutineCleanup verifies no goroutines outlive the test.
// Usage: defer CheckGoroutineCleanup(t)() at the start of a test that starts
// a worker pool or job runner.
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()

	return func() {
		assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 50*time.Millisecond,
			"goroutine leak: %d goroutines still running", runtime.NumGoroutine()-before)
	}
}
