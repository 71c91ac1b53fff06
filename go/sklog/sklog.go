// Package sklog is the logging facade used throughout the agent. All logging
// goes through glog, which handles log files and rotation (pointed at the
// configured log directory via the --log_dir flag). A metrics callback can be
// installed so that the number of log lines seen at each severity is
// reported, e.g. to alert if many ERRORs are seen.
package sklog

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/skia-dev/glog"
)

const (
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	ALERT   = "ALERT"
)

// AllSeverities lists every severity sklog reports.
var AllSeverities = []string{
	DEBUG,
	INFO,
	WARNING,
	ERROR,
	ALERT,
}

// MetricsCallback is called once per log line with the line's severity.
type MetricsCallback func(severity string)

// sawLogWithSeverity breaks a dependency cycle: sklog must not depend on
// metrics2, so metrics wiring is injected from the outside.
var sawLogWithSeverity MetricsCallback = func(string) {}

// SetMetricsCallback installs the callback invoked for every log line.
func SetMetricsCallback(cb MetricsCallback) {
	if cb != nil {
		sawLogWithSeverity = cb
	}
}

func Debug(msg ...interface{}) {
	sawLogWithSeverity(DEBUG)
	logToGlog(defaultDepth, DEBUG, fmt.Sprint(msg...))
}

func Debugf(format string, v ...interface{}) {
	sawLogWithSeverity(DEBUG)
	logToGlog(defaultDepth, DEBUG, fmt.Sprintf(format, v...))
}

func Info(msg ...interface{}) {
	sawLogWithSeverity(INFO)
	logToGlog(defaultDepth, INFO, fmt.Sprint(msg...))
}

func Infof(format string, v ...interface{}) {
	sawLogWithSeverity(INFO)
	logToGlog(defaultDepth, INFO, fmt.Sprintf(format, v...))
}

func Warning(msg ...interface{}) {
	sawLogWithSeverity(WARNING)
	logToGlog(defaultDepth, WARNING, fmt.Sprint(msg...))
}

func Warningf(format string, v ...interface{}) {
	sawLogWithSeverity(WARNING)
	logToGlog(defaultDepth, WARNING, fmt.Sprintf(format, v...))
}

func Error(msg ...interface{}) {
	sawLogWithSeverity(ERROR)
	logToGlog(defaultDepth, ERROR, fmt.Sprint(msg...))
}

func Errorf(format string, v ...interface{}) {
	sawLogWithSeverity(ERROR)
	logToGlog(defaultDepth, ERROR, fmt.Sprintf(format, v...))
}

// Fatal* logs at ALERT severity, flushes, and panics. There is no callback to
// sawLogWithSeverity since the process is about to exit.
func Fatal(msg ...interface{}) {
	logToGlog(defaultDepth, ALERT, fmt.Sprint(msg...))
	Flush()
	panic(fmt.Sprint(msg...))
}

func Fatalf(format string, v ...interface{}) {
	logToGlog(defaultDepth, ALERT, fmt.Sprintf(format, v...))
	Flush()
	panic(fmt.Sprintf(format, v...))
}

// Flush forces buffered log lines to their destination.
func Flush() {
	glog.Flush()
}

// defaultDepth puts the file:line of the sklog caller, not of sklog itself,
// into the glog record.
const defaultDepth = 2

func logToGlog(depth int, severity string, msg string) {
	switch severity {
	case DEBUG, INFO:
		glog.InfoDepth(depth, msg)
	case WARNING:
		glog.WarningDepth(depth, msg)
	case ALERT:
		glog.ErrorDepth(depth, msg)
	default:
		glog.ErrorDepth(depth, msg)
	}
}

// StackTrace is one line of a captured call stack.
type StackTrace struct {
	File string
	Line int
}

func (st *StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// CallStack returns height lines of the current stack, starting startAt
// frames above the call to CallStack. Missing frames are padded with a dummy
// value so the result always has exactly height entries.
func CallStack(height, startAt int) []StackTrace {
	stack := make([]StackTrace, 0, height)
	for i := 0; i < height; i++ {
		_, file, line, ok := runtime.Caller(startAt + i)
		if !ok {
			file = "???"
			line = 1
		} else if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		stack = append(stack, StackTrace{File: file, Line: line})
	}
	return stack
}
