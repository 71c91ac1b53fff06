// Package executor drives scheduled test and benchmark jobs through their
// stages: workspace cleanup, repository sync, spec loading, artifact
// installation, pre/post steps, the command itself, output comparison, and
// result reporting.
package executor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/agent/go/workspace"
	"go.testfarm.build/infra/go/exec"
	"go.testfarm.build/infra/go/skerr"
	"go.testfarm.build/infra/go/sklog"
)

// Host status strings reported while executing jobs.
const (
	StatusWaiting          = "Waiting for tests..."
	StatusInstalling       = "Installing artifacts..."
	StatusRunningTest      = "Running test..."
	StatusRunningBenchmark = "Running benchmark..."
	StatusInstallFailed    = "Failed to install artifacts"
	StatusOffline          = "Offline"
)

// Test/benchmark result statuses reported to the server.
const (
	resultPassed = "passed"
	resultFailed = "failed"
)

// Per-diff outcome statuses.
const (
	diffPassed     = "passed"
	diffFailed     = "failed"
	diffNoGoldFile = "no gold file"
	diffNoNewFile  = "no new file"
)

// RepoSyncer produces a local working copy of a test repository and returns
// its path.
type RepoSyncer interface {
	Sync(ctx context.Context, repo *farmclient.Repository) (string, error)
}

// ArtifactInstaller runs the install scripts for a run's artifacts.
type ArtifactInstaller interface {
	Install(ctx context.Context, artifacts []*farmclient.Artifact) error
}

// Executor runs one job at a time on behalf of a registered host.
type Executor struct {
	farm      *farmclient.Client
	vars      *magicvars.Vars
	workspace *workspace.Manager
	repos     RepoSyncer
	installer ArtifactInstaller
	host      *farmclient.Host

	// PythonPathKey names the env var which gets the local repo path
	// prepended for every step. The test corpus predates this agent and
	// expects PYTHONPATH.
	PythonPathKey string

	// StepTimeout bounds each individual step command. Zero means unbounded,
	// which matches the behavior the existing test corpus was written
	// against.
	StepTimeout time.Duration

	// currentRunId tracks the run whose artifacts are installed on this
	// host. It advances only after a successful install; a restarted agent
	// reinstalls on its first job.
	currentRunId int64
}

// New returns an Executor acting for the given registered host.
func New(farm *farmclient.Client, vars *magicvars.Vars, ws *workspace.Manager, repos RepoSyncer, installer ArtifactInstaller, host *farmclient.Host) *Executor {
	return &Executor{
		farm:          farm,
		vars:          vars,
		workspace:     ws,
		repos:         repos,
		installer:     installer,
		host:          host,
		PythonPathKey: "PYTHONPATH",
		currentRunId:  -1,
	}
}

// CurrentRunId returns the id of the run whose artifacts are currently
// installed, or -1 if none.
func (e *Executor) CurrentRunId() int64 {
	return e.currentRunId
}

func (e *Executor) updateStatus(ctx context.Context, status string) error {
	if err := e.farm.UpdateHostStatus(ctx, e.host.Id, status); err != nil {
		return skerr.Wrapf(err, "Failed to update host status to %q", status)
	}
	sklog.Infof("Host %s status set to %q", e.host.Hostname, status)
	return nil
}

// installArtifactsIfNeeded installs the run's artifacts unless they are
// already in place. Returns whether the caller may proceed with the job; on
// an install failure the job has already been reported failed and the work
// dir cleaned.
func (e *Executor) installArtifactsIfNeeded(ctx context.Context, run *farmclient.Run, resultId int64, outputPath string) (bool, error) {
	if e.currentRunId == run.Id {
		return true, nil
	}
	if err := e.updateStatus(ctx, StatusInstalling); err != nil {
		return false, err
	}
	sklog.Infof("Installing artifacts for run: %s (ID: %d)", run.Name, run.Id)
	if err := e.installer.Install(ctx, run.Artifacts); err != nil {
		if statusErr := e.updateStatus(ctx, StatusInstallFailed); statusErr != nil {
			return false, statusErr
		}
		sklog.Errorf("Artifact installation failed for run: %s (ID: %d): %s", run.Name, run.Id, err)
		output := e.readFileIfPresent(outputPath)
		if err := e.farm.CompleteTest(ctx, resultId, resultFailed, output, ""); err != nil {
			return false, err
		}
		if err := e.workspace.CleanupWorkDir(); err != nil {
			return false, err
		}
		return false, nil
	}
	sklog.Info("Artifacts installation succeeded.")
	e.currentRunId = run.Id
	if err := e.workspace.CleanupWorkDir(); err != nil {
		return false, err
	}
	return true, nil
}

// stepEnv builds the environment for job steps: the process environment with
// the local repository prepended onto PythonPathKey.
func (e *Executor) stepEnv(localRepo string) []string {
	existing := os.Getenv(e.PythonPathKey)
	return []string{e.PythonPathKey + "=" + localRepo + string(os.PathListSeparator) + existing}
}

// shellCommand wraps a job-spec command line for execution by the host
// shell. Step commands are shell lines, not argv lists.
func shellCommand(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// runStep executes one expanded step command with the given env and cwd.
// A non-zero exit or failure to start yields an error carrying the exit
// condition and both output streams.
func (e *Executor) runStep(ctx context.Context, command string, env []string, cwd string) error {
	name, args := shellCommand(command)
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	err := exec.Run(ctx, &exec.Command{
		Name:       name,
		Args:       args,
		Env:        env,
		InheritEnv: true,
		Dir:        cwd,
		Stdout:     &stdout,
		Stderr:     &stderr,
		Timeout:    e.StepTimeout,
		Verbose:    exec.Silent,
	})
	if err != nil {
		return skerr.Fmt("Command execution failed! %s\nstdout: %s\nstderr: %s",
			err, decodeOutput(stdout.Bytes()), decodeOutput(stderr.Bytes()))
	}
	return nil
}

// runSteps expands and executes a list of step commands in declaration
// order.
func (e *Executor) runSteps(ctx context.Context, label string, steps []string, env []string, cwd string) error {
	for _, step := range steps {
		expanded := e.vars.Expand(step)
		sklog.Infof("Executing %s: %s", label, expanded)
		if err := e.runStep(ctx, expanded, env, cwd); err != nil {
			return err
		}
	}
	return nil
}

// decodeOutput renders subprocess output as UTF-8, substituting the
// replacement character for undecodable bytes.
func decodeOutput(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// readExecutionOutput reads the job's captured output file. The file is
// required; a test whose output file is missing did not run to plan.
func (e *Executor) readExecutionOutput(outputPath string) (string, error) {
	path := e.vars.Expand(outputPath)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", skerr.Wrapf(err, "Failed to read execution output file %s", path)
	}
	return decodeOutput(b), nil
}

// readFileIfPresent returns the file's decoded content, or "" if the path is
// empty or the file does not exist.
func (e *Executor) readFileIfPresent(path string) string {
	if path == "" {
		return ""
	}
	expanded := e.vars.Expand(path)
	b, err := os.ReadFile(expanded)
	if err != nil {
		if !os.IsNotExist(err) {
			sklog.Errorf("Failed to read file %s: %s", expanded, err)
		}
		return ""
	}
	return decodeOutput(b)
}

// specDir returns the directory holding the job description file; steps run
// with it as their working directory.
func specDir(specPath string) string {
	return filepath.Dir(specPath)
}
