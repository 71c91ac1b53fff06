/*
Package exec is a wrapper around os/exec that supports timeouts, stream
capture, and testing.

Simple command with argument:

	err := exec.Run(ctx, &exec.Command{
		Name: "touch",
		Args: []string{file},
	})

More complicated example:

	output := bytes.Buffer{}
	err := exec.Run(ctx, &exec.Command{
		Name:           "make",
		Args:           []string{"all"},
		Env:            []string{fmt.Sprintf("GOPATH=%s", projectGoPath)},
		Dir:            projectDir,
		CombinedOutput: &output,
		Timeout:        10 * time.Minute,
	})

Inject a run function for testing:

	var actual *exec.Command
	ctx := exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		actual = cmd
		return nil
	})
	CodeCallingRun(ctx)
*/
package exec

import (
	"context"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"time"

	"go.testfarm.build/infra/go/sklog"
	"go.testfarm.build/infra/go/util"
)

const timeoutErrorPrefix = "Command killed since it took longer than"

// Verbosity controls whether a command is logged when it starts.
type Verbosity int

const (
	Info Verbosity = iota
	Debug
	Silent
)

// RunFn is the type of function that actually executes a Command. An
// alternate RunFn can be installed on a context via NewContext for testing.
type RunFn func(ctx context.Context, command *Command) error

var (
	contextKey     = &struct{}{}
	defaultContext = &execContext{runFn: DefaultRun}

	// WriteInfoLog and WriteErrorLog are io.Writers which log each Write at
	// the corresponding severity.
	WriteInfoLog  = WriteLog{LogFunc: sklog.Infof}
	WriteErrorLog = WriteLog{LogFunc: sklog.Errorf}
)

// WriteLog implements io.Writer by passing each write to a log function.
type WriteLog struct {
	LogFunc func(format string, args ...interface{})
}

func (wl WriteLog) Write(p []byte) (n int, err error) {
	wl.LogFunc("%s", string(p))
	return len(p), nil
}

// Command describes a subprocess to run.
type Command struct {
	// Name of the command, as passed to osexec.Command. Can be the path to a
	// binary or the name of a command that osexec.LookPath can find.
	Name string
	// Arguments of the command, not including Name.
	Args []string
	// The environment of the process. If nil, the current process's
	// environment is used.
	Env []string
	// If Env is non-nil, adds the current process's entire environment to
	// Env, excluding variables that are already set in Env.
	InheritEnv bool
	// If Env is non-nil, adds the current process's PATH to Env. Do not
	// include PATH in Env.
	InheritPath bool
	// The working directory of the command. If empty, runs in the current
	// process's current directory.
	Dir string
	// See docs for osexec.Cmd.Stdin.
	Stdin io.Reader
	// If true, duplicates stdout of the command to WriteInfoLog.
	LogStdout bool
	// Sends the stdout of the command to this Writer, e.g. os.File or
	// bytes.Buffer.
	Stdout io.Writer
	// If true, duplicates stderr of the command to WriteErrorLog.
	LogStderr bool
	// Sends the stderr of the command to this Writer.
	Stderr io.Writer
	// Sends the combined stdout and stderr of the command to this Writer, in
	// addition to Stdout and Stderr. Note that the interleaving of the two
	// streams is only well-defined when Stdout and Stderr are nil and
	// LogStdout and LogStderr are false.
	CombinedOutput io.Writer
	// Time limit for the command to finish. No limit if zero.
	Timeout time.Duration
	// Whether to log when the command starts.
	Verbose Verbosity
}

// ParseCommand divides commandLine at spaces; the first token is the program
// name and the rest are arguments. Does nothing smart with quotes or escaped
// spaces.
func ParseCommand(commandLine string) Command {
	programAndArgs := strings.Split(commandLine, " ")
	return Command{Name: programAndArgs[0], Args: programAndArgs[1:]}
}

// DebugString returns the Env, Name, and Args of command joined with spaces,
// without any quoting.
func DebugString(command *Command) string {
	result := strings.Join(command.Env, " ")
	if len(command.Env) != 0 {
		result += " "
	}
	result += command.Name
	if len(command.Args) != 0 {
		result += " " + strings.Join(command.Args, " ")
	}
	return result
}

// squashWriters returns a single writer that writes to all non-nil writers,
// or nil if there are none. Also checks for non-nil io.Writers containing nil
// values.
func squashWriters(writers ...io.Writer) io.Writer {
	nonNil := []io.Writer{}
	for _, writer := range writers {
		if writer != nil && !util.IsNil(writer) {
			nonNil = append(nonNil, writer)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return io.MultiWriter(nonNil...)
	}
}

func createCmd(ctx context.Context, command *Command) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, command.Name, command.Args...)
	if len(command.Env) != 0 {
		cmd.Env = command.Env
		if command.InheritEnv {
			existing := make(map[string]bool, len(command.Env))
			for _, s := range command.Env {
				existing[strings.SplitN(s, "=", 2)[0]] = true
			}
			for _, s := range os.Environ() {
				if !existing[strings.SplitN(s, "=", 2)[0]] {
					cmd.Env = append(cmd.Env, s)
				}
			}
		} else if command.InheritPath {
			cmd.Env = append(cmd.Env, "PATH="+os.Getenv("PATH"))
		}
	}
	cmd.Dir = command.Dir
	cmd.Stdin = command.Stdin
	var stdoutLog io.Writer
	if command.LogStdout {
		stdoutLog = WriteInfoLog
	}
	cmd.Stdout = squashWriters(stdoutLog, command.Stdout, command.CombinedOutput)
	var stderrLog io.Writer
	if command.LogStderr {
		stderrLog = WriteErrorLog
	}
	cmd.Stderr = squashWriters(stderrLog, command.Stderr, command.CombinedOutput)
	return cmd
}

func logStart(command *Command, cmd *osexec.Cmd) {
	if command.Verbose == Silent {
		return
	}
	dirMsg := ""
	if cmd.Dir != "" {
		dirMsg = " with CWD " + cmd.Dir
	}
	if command.Verbose == Info {
		sklog.Infof("Executing '%s'%s", DebugString(command), dirMsg)
	} else {
		sklog.Debugf("Executing '%s'%s", DebugString(command), dirMsg)
	}
}

// DefaultRun runs the command as a real subprocess. It can be passed to
// NewContext to go back to running commands as normal.
func DefaultRun(ctx context.Context, command *Command) error {
	cmd := createCmd(ctx, command)
	logStart(command, cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("Unable to start command %s: %s", DebugString(command), err)
	}
	if command.Timeout == 0 {
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("Command exited with %s: %s", err, DebugString(command))
		}
		return nil
	}
	done := make(chan error)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case <-time.After(command.Timeout):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("Failed to kill timed out process: %s", err)
		}
		<-done // allow the goroutine to exit
		return fmt.Errorf("%s %f secs", timeoutErrorPrefix, command.Timeout.Seconds())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("Command exited with %s: %s", err, DebugString(command))
		}
		return nil
	}
}

// IsTimeout returns true if the given error was raised because a command
// exceeded its Timeout.
func IsTimeout(err error) bool {
	return err != nil && strings.Contains(err.Error(), timeoutErrorPrefix)
}

// execContext controls the execution of Commands for a context.Context.
type execContext struct {
	runFn RunFn
}

// NewContext returns a context.Context which uses the given function to run
// Commands.
func NewContext(ctx context.Context, runFn RunFn) context.Context {
	return context.WithValue(ctx, contextKey, &execContext{runFn: runFn})
}

func getCtx(ctx context.Context) *execContext {
	if v := ctx.Value(contextKey); v != nil {
		return v.(*execContext)
	}
	return defaultContext
}

// Run runs command and waits for it to finish. Returns non-nil on any
// failure, including exceeding the Timeout if one was specified.
func Run(ctx context.Context, command *Command) error {
	return getCtx(ctx).runFn(ctx, command)
}

// RunCommand executes the given command and returns the combined stdout and
// stderr. May also return an error if the command exited with a non-zero
// status or there was any other error.
func RunCommand(ctx context.Context, command *Command) (string, error) {
	output := strings.Builder{}
	command.CombinedOutput = &output
	command.Verbose = Silent
	err := Run(ctx, command)
	result := output.String()
	if err != nil {
		return result, fmt.Errorf("%s; Stdout+Stderr:\n%s", err.Error(), result)
	}
	return result, nil
}

// RunSimple executes the given command line string; the command being run is
// expected to not care what its current working directory is. Returns the
// combined stdout and stderr.
func RunSimple(ctx context.Context, commandLine string) (string, error) {
	cmd := ParseCommand(commandLine)
	return RunCommand(ctx, &cmd)
}

// RunCwd executes the given command in the given directory. Returns the
// combined stdout and stderr.
func RunCwd(ctx context.Context, cwd string, args ...string) (string, error) {
	command := &Command{
		Name: args[0],
		Args: args[1:],
		Dir:  cwd,
	}
	return RunCommand(ctx, command)
}
