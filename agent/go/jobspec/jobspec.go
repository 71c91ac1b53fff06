// Package jobspec parses the job description files shipped in a test
// repository: test.testfarm for tests and benchmark.testfarm for benchmarks.
// Both are JSON documents; unknown fields are ignored and absent step lists
// default to empty.
package jobspec

import (
	"encoding/json"
	"errors"
	"os"

	"go.testfarm.build/infra/go/skerr"
)

// Standard description file names.
const (
	TestFileName      = "test.testfarm"
	BenchmarkFileName = "benchmark.testfarm"
)

// ErrSpecNotFound is returned when the description file does not exist at
// the expected path.
var ErrSpecNotFound = errors.New("job description file not found")

// DiffPair names one gold-vs-new comparison. Gold is relative to the test
// directory; New may contain magic variables.
type DiffPair struct {
	Gold     string `json:"gold"`
	New      string `json:"new"`
	Encoding string `json:"encoding"`
}

// TestCase is the parsed form of a test.testfarm file.
type TestCase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
	Type        string `json:"type"`

	Command string `json:"command"`

	// Output is the path of the file holding the captured execution output,
	// possibly containing magic variables.
	Output string `json:"output"`
	// AtomicResults optionally names a file of per-case results to attach to
	// the completion report.
	AtomicResults string `json:"atomic_results"`

	PreSteps  []string   `json:"pre_steps"`
	PostSteps []string   `json:"post_steps"`
	Diffs     []DiffPair `json:"diffs"`
}

// BenchmarkCase is the parsed form of a benchmark.testfarm file.
type BenchmarkCase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`

	Iterations int    `json:"iterations"`
	Command    string `json:"command"`

	// Results is the path of the metrics JSON produced by the benchmark,
	// possibly containing magic variables.
	Results string `json:"results"`
	Output  string `json:"output"`

	PreBenchSteps  []string `json:"pre_bench_steps"`
	PostBenchSteps []string `json:"post_bench_steps"`
	PreIterSteps   []string `json:"pre_iter_steps"`
	PostIterSteps  []string `json:"post_iter_steps"`
}

func readSpecFile(path string, dest interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return skerr.Wrapf(ErrSpecNotFound, "%s", path)
		}
		return skerr.Wrapf(err, "Failed to read job description %s", path)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return skerr.Wrapf(err, "Failed to parse job description %s", path)
	}
	return nil
}

// ReadTestCase parses the test description at the given path.
func ReadTestCase(path string) (*TestCase, error) {
	tc := &TestCase{}
	if err := readSpecFile(path, tc); err != nil {
		return nil, err
	}
	if tc.Type == "" {
		tc.Type = "native"
	}
	for idx, d := range tc.Diffs {
		if d.Gold == "" || d.New == "" {
			return nil, skerr.Fmt("Job description %s: diffs[%d] must name both gold and new files", path, idx)
		}
	}
	return tc, nil
}

// ReadBenchmarkCase parses the benchmark description at the given path.
func ReadBenchmarkCase(path string) (*BenchmarkCase, error) {
	bc := &BenchmarkCase{}
	if err := readSpecFile(path, bc); err != nil {
		return nil, err
	}
	if bc.Iterations < 1 {
		return nil, skerr.Fmt("Job description %s: iterations must be a positive integer, got %d", path, bc.Iterations)
	}
	return bc, nil
}
