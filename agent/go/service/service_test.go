package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	expect "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.testfarm.build/infra/agent/go/config"
	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/agent/go/workspace"
	"go.testfarm.build/infra/go/testutils/unittest"
)

// fakeControlPlane records the host-lifecycle traffic the agent generates.
type fakeControlPlane struct {
	t *testing.T

	mtx           sync.Mutex
	registered    bool
	unregistered  bool
	statusUpdates []string
	polls         int
	failRegister  bool
}

func (f *fakeControlPlane) snapshotStatuses() []string {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]string, len(f.statusUpdates))
	copy(out, f.statusUpdates)
	return out
}

func (f *fakeControlPlane) pollCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.polls
}

func (f *fakeControlPlane) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register-host", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		if f.failRegister {
			http.Error(w, "no such grid", http.StatusNotFound)
			return
		}
		f.registered = true
		fmt.Fprint(w, `{
			"Id": 17, "GridId": 3, "Type": "tests", "Status": "",
			"Hostname": "farm-host-01", "Cores": 4, "RAM": 16,
			"CreationTimestamp": "2024-05-01T10:00:00Z",
			"LastUpdateTimestamp": "2024-05-01T10:00:00Z"
		}`)
	})
	mux.HandleFunc("/unregister-host", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		f.unregistered = true
	})
	mux.HandleFunc("/update-host-status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"Status"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mtx.Lock()
		defer f.mtx.Unlock()
		f.statusUpdates = append(f.statusUpdates, body.Status)
	})
	mux.HandleFunc("/get-next-job", func(w http.ResponseWriter, r *http.Request) {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		f.polls++
		// No work.
	})
	return mux
}

func newService(t *testing.T, cp *fakeControlPlane) *Service {
	server := httptest.NewServer(cp.handler())
	t.Cleanup(server.Close)

	root := t.TempDir()
	vars := magicvars.New(
		filepath.Join(root, "repos"),
		filepath.Join(root, "work"),
		filepath.Join(root, "temp"),
	)
	ws := workspace.NewManager(vars, touchArchiver{})
	require.NoError(t, ws.Init())

	cfg := &config.Config{
		TestFarmApi: config.FarmApiConfig{BaseUrl: server.URL, Timeout: 5},
		Grid:        config.GridConfig{Name: "linux-x64"},
	}
	s := New(cfg, vars, ws, farmclient.NewWithClient(server.URL, server.Client()))
	s.PollInterval = 10 * time.Millisecond
	return s
}

type touchArchiver struct{}

func (touchArchiver) Archive(archivePath, dir string) error { return nil }

func TestGracefulStop(t *testing.T) {
	unittest.MediumTest(t)
	cp := &fakeControlPlane{t: t}
	s := newService(t, cp)

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(context.Background())
	}()

	// Let the loop poll a few times.
	require.Eventually(t, func() bool { return cp.pollCount() >= 3 }, 5*time.Second, 5*time.Millisecond)

	s.Stop()
	require.NoError(t, <-runErr)

	cp.mtx.Lock()
	registered := cp.registered
	unregistered := cp.unregistered
	cp.mtx.Unlock()
	expect.True(t, registered)
	expect.True(t, unregistered)

	statuses := cp.snapshotStatuses()
	require.NotEmpty(t, statuses)
	// First update is "Waiting for tests...", last is "Offline".
	expect.Equal(t, "Waiting for tests...", statuses[0])
	expect.Equal(t, "Offline", statuses[len(statuses)-1])

	// No further polls after the loop exits.
	final := cp.pollCount()
	time.Sleep(50 * time.Millisecond)
	expect.Equal(t, final, cp.pollCount())
}

func TestRegisterFailureIsFatal(t *testing.T) {
	unittest.MediumTest(t)
	cp := &fakeControlPlane{t: t, failRegister: true}
	s := newService(t, cp)

	err := s.Run(context.Background())
	require.Error(t, err)
	expect.Equal(t, 0, cp.pollCount())
	expect.False(t, cp.unregistered)
}

func TestSystemInfo(t *testing.T) {
	unittest.MediumTest(t)
	info, err := SystemInfo()
	require.NoError(t, err)
	expect.NotEmpty(t, info.Hostname)
	expect.True(t, info.Cores > 0)
	expect.True(t, info.RAM > 0)
	expect.Equal(t, "tests", info.Type)
}
