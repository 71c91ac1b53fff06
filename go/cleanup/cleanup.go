// Package cleanup provides hooks for performing cleanup tasks when a program
// exits, and for running periodic background work that is stopped cleanly at
// shutdown.
package cleanup

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.testfarm.build/infra/go/sklog"
)

var (
	mtx       sync.Mutex
	atExit    []func()
	stopCh    chan struct{}
	wg        sync.WaitGroup
	enabled   bool
	cleanedUp bool
)

func init() {
	reset()
}

// reset restores the package to its initial state. Used by tests.
func reset() {
	mtx.Lock()
	defer mtx.Unlock()
	atExit = nil
	stopCh = make(chan struct{})
	cleanedUp = false
}

// Enable installs a signal handler for SIGINT and SIGTERM which runs all
// cleanup funcs and then exits. Call once at program startup.
func Enable() {
	mtx.Lock()
	if enabled {
		mtx.Unlock()
		return
	}
	enabled = true
	mtx.Unlock()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		sklog.Infof("Caught %s; running cleanup.", sig)
		Cleanup()
		sklog.Flush()
		os.Exit(0)
	}()
}

// AtExit registers fn to run when Cleanup is invoked. Funcs run in reverse
// registration order.
func AtExit(fn func()) {
	mtx.Lock()
	defer mtx.Unlock()
	atExit = append(atExit, fn)
}

// Repeat runs tick every interval until Cleanup is invoked, at which point
// cleanupFn (if non-nil) runs exactly once. tick and cleanupFn never run
// concurrently with each other.
func Repeat(interval time.Duration, tick func(), cleanupFn func()) {
	mtx.Lock()
	stop := stopCh
	mtx.Unlock()
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				tick()
			case <-stop:
				if cleanupFn != nil {
					cleanupFn()
				}
				return
			}
		}
	}()
}

// Cleanup stops all Repeat goroutines, waits for their cleanup funcs, then
// runs the AtExit funcs. Safe to call more than once; subsequent calls are
// no-ops until reset.
func Cleanup() {
	mtx.Lock()
	if cleanedUp {
		mtx.Unlock()
		return
	}
	cleanedUp = true
	close(stopCh)
	fns := make([]func(), len(atExit))
	copy(fns, atExit)
	mtx.Unlock()

	wg.Wait()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
