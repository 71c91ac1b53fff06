// Package httputils constructs http.Clients with sane defaults for talking
// to the Farm API. Plain net/http clients have no overall timeout and will
// happily hang a polling loop forever on a wedged connection.
package httputils

import (
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"go.testfarm.build/infra/go/sklog"
)

const (
	dialTimeout = 10 * time.Second

	// requestTimeoutDefault is used when the caller passes a zero timeout.
	requestTimeoutDefault = 30 * time.Second
)

// DialTimeout is a dialer with a bounded connect time, for use in custom
// transports.
func DialTimeout(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, dialTimeout)
}

// NewTimeoutClient returns an http.Client which applies the given timeout to
// each request, connection included. Retrying is left to the caller; this
// client makes exactly one attempt per request.
func NewTimeoutClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = requestTimeoutDefault
	}
	return &http.Client{
		Transport: &http.Transport{
			Dial: DialTimeout,
		},
		Timeout: timeout,
	}
}

// ReadAndClose reads the given ReadCloser to completion and closes it,
// logging any error. Helps reuse of HTTP connections for responses whose
// bodies are uninteresting.
func ReadAndClose(r io.ReadCloser) {
	if _, err := io.Copy(ioutil.Discard, io.LimitReader(r, 1024*1024)); err != nil {
		sklog.Errorf("Failed to read HTTP response body: %s", err)
	}
	if err := r.Close(); err != nil {
		sklog.Errorf("Failed to close HTTP response body: %s", err)
	}
}
