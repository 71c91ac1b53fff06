package farmclient

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
)

// The Farm API serves PascalCase JSON; the structs below are the wire types.

// Host is the control-plane record identifying this agent. Created via
// register-host on startup, destroyed via unregister-host on graceful
// shutdown.
type Host struct {
	Id                  int64     `json:"Id"`
	GridId              int64     `json:"GridId"`
	Type                string    `json:"Type"`
	Status              string    `json:"Status"`
	Hostname            string    `json:"Hostname"`
	Cores               int       `json:"Cores"`
	RAM                 *int64    `json:"RAM"`
	CreationTimestamp   time.Time `json:"CreationTimestamp"`
	LastUpdateTimestamp time.Time `json:"LastUpdateTimestamp"`
}

// Repository describes a source of test definitions. Token is sensitive and
// must never be logged.
type Repository struct {
	Id       int64  `json:"Id"`
	Name     string `json:"Name"`
	Url      string `json:"Url"`
	User     string `json:"User"`
	Token    string `json:"Token"`
	IsActive bool   `json:"IsActive"`
}

// ArtifactDefinition is a named, versioned install recipe. InstallScript
// arrives as a single JSON string with embedded escape sequences; it is
// decoded by UnescapeInstallScript before being written to disk.
type ArtifactDefinition struct {
	Id            int64    `json:"Id"`
	Name          string   `json:"Name"`
	InstallScript string   `json:"InstallScript"`
	Tags          []string `json:"Tags"`
}

// Artifact is a specific build of an ArtifactDefinition.
type Artifact struct {
	Id                 int64              `json:"Id"`
	ArtifactDefinition ArtifactDefinition `json:"ArtifactDefinition"`
	BuildId            int64              `json:"BuildId"`
	BuildName          string             `json:"BuildName"`
	Repository         string             `json:"Repository"`
	Branch             string             `json:"Branch"`
	Revision           string             `json:"Revision"`
	WorkItemUrl        string             `json:"WorkItemUrl"`
	BuildPageUrl       string             `json:"BuildPageUrl"`
	Tags               []string           `json:"Tags"`
}

// Test is the definition of a single test within a repository.
type Test struct {
	Id                int64     `json:"Id"`
	RepositoryName    string    `json:"RepositoryName"`
	SuiteName         string    `json:"SuiteName"`
	Path              string    `json:"Path"`
	Name              string    `json:"Name"`
	Owner             string    `json:"Owner"`
	CreationTimestamp time.Time `json:"CreationTimestamp"`
}

// Benchmark is the definition of a single benchmark within a repository.
type Benchmark struct {
	Id                int64     `json:"Id"`
	RepositoryName    string    `json:"RepositoryName"`
	SuiteName         string    `json:"SuiteName"`
	Path              string    `json:"Path"`
	Name              string    `json:"Name"`
	Owner             string    `json:"Owner"`
	CreationTimestamp time.Time `json:"CreationTimestamp"`
}

// Run is a grouping of jobs sharing the same installed artifact set. The
// server sends artifact ids; the client resolves them into Artifacts via the
// artifact endpoint.
type Run struct {
	Id                int64     `json:"Id"`
	RepositoryName    string    `json:"RepositoryName"`
	SuiteName         string    `json:"SuiteName"`
	Name              string    `json:"Name"`
	GridName          string    `json:"GridName"`
	CreationTimestamp time.Time `json:"CreationTimestamp"`
	OverallStatus     string    `json:"OverallStatus"`
	ArtifactIds       []int64   `json:"Artifacts"`

	// Artifacts is filled in by the client after fetching each id.
	Artifacts []*Artifact `json:"-"`
}

// TestResult is the server-side record for one scheduled test execution.
type TestResult struct {
	Id                      int64      `json:"Id"`
	TestRunId               int64      `json:"TestRunId"`
	TestId                  int64      `json:"TestId"`
	Status                  string     `json:"Status"`
	ExecutionStartTimestamp time.Time  `json:"ExecutionStartTimestamp"`
	ExecutionEndTimestamp   *time.Time `json:"ExecutionEndTimestamp"`
	ExecutionOutput         string     `json:"ExecutionOutput"`
	TestRun                 Run        `json:"TestRun"`
	Test                    Test       `json:"Test"`
	Repository              Repository `json:"Repository"`
}

// BenchmarkResult is the server-side record for one scheduled benchmark
// execution.
type BenchmarkResult struct {
	Id                      int64      `json:"Id"`
	BenchmarkRunId          int64      `json:"BenchmarkRunId"`
	BenchmarkId             int64      `json:"BenchmarkId"`
	Status                  string     `json:"Status"`
	ExecutionStartTimestamp time.Time  `json:"ExecutionStartTimestamp"`
	ExecutionEndTimestamp   *time.Time `json:"ExecutionEndTimestamp"`
	BenchmarkRun            Run        `json:"BenchmarkRun"`
	Benchmark               Benchmark  `json:"Benchmark"`
	Repository              Repository `json:"Repository"`
}

// Job types served by get-next-job.
const (
	JobTypeTest  = "test"
	JobTypeBench = "bench"
)

// Job is a single scheduled unit served to one agent.
type Job struct {
	Id       int64  `json:"Id"`
	Type     string `json:"Type"`
	Status   string `json:"Status"`
	GridName string `json:"GridName"`
	RunId    int64  `json:"RunId"`
	ResultId int64  `json:"ResultId"`
}

// HostSystemInfo is the payload sent when registering a host.
type HostSystemInfo struct {
	Hostname string `json:"Hostname"`
	// Cores is the number of physical cores.
	Cores int `json:"Cores"`
	// RAM is total memory in GiB, rounded.
	RAM int64 `json:"RAM"`
	// Type is always "tests" for this agent.
	Type string `json:"Type"`
}

// UnescapeInstallScript decodes the escape sequences (\n, \t, \r, \\, \",
// \', \uXXXX, \xXX) embedded in a server-provided install script string, so
// operators can ship a multi-line script in a single JSON string field.
// Unknown escapes are preserved verbatim.
func UnescapeInstallScript(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i == len(runes)-1 {
			sb.WriteRune(runes[i])
			continue
		}
		i++
		switch runes[i] {
		case 'n':
			sb.WriteRune('\n')
		case 't':
			sb.WriteRune('\t')
		case 'r':
			sb.WriteRune('\r')
		case '\\':
			sb.WriteRune('\\')
		case '\'':
			sb.WriteRune('\'')
		case '"':
			sb.WriteRune('"')
		case '0':
			sb.WriteRune(0)
		case 'x':
			if i+2 < len(runes) {
				var b int
				if _, err := fmt.Sscanf(string(runes[i+1:i+3]), "%02x", &b); err == nil {
					sb.WriteRune(rune(b))
					i += 2
					continue
				}
			}
			sb.WriteString("\\x")
		case 'u':
			if i+4 < len(runes) {
				var u int
				if _, err := fmt.Sscanf(string(runes[i+1:i+5]), "%04x", &u); err == nil {
					sb.WriteRune(utf16.Decode([]uint16{uint16(u)})[0])
					i += 4
					continue
				}
			}
			sb.WriteString("\\u")
		default:
			sb.WriteRune('\\')
			sb.WriteRune(runes[i])
		}
	}
	return sb.String()
}
