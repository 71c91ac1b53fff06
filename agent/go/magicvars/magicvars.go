// Package magicvars resolves the $__TF_<NAME>__ placeholder tokens which job
// specs use to refer to agent-local paths and the current benchmark
// iteration. Expansion is a literal textual substitution; it is not a shell
// and unrecognized tokens are left verbatim.
package magicvars

import (
	"fmt"
	"strconv"
	"strings"
)

// Token names recognized by Expand.
const (
	TokenReposDir  = "$__TF_TESTS_REPOS_DIR__"
	TokenWorkDir   = "$__TF_WORK_DIR__"
	TokenTempDir   = "$__TF_TEMP_DIR__"
	TokenBenchIter = "$__TF_BENCH_ITER__"
)

// Vars holds the concrete values that magic variables expand to. The path
// values are fixed at startup; the benchmark iteration counter is advanced by
// the benchmark executor between iterations.
type Vars struct {
	// ReposDir is the persistent root holding per-repository clones.
	ReposDir string
	// WorkDir is the ephemeral working directory, cleaned at each job start.
	WorkDir string
	// TempDir is scratch space for install scripts and archives.
	TempDir string

	benchIter int
}

// New returns a Vars with the given workspace roots and the benchmark
// iteration counter at 1.
func New(reposDir, workDir, tempDir string) *Vars {
	return &Vars{
		ReposDir:  reposDir,
		WorkDir:   workDir,
		TempDir:   tempDir,
		benchIter: 1,
	}
}

// Expand substitutes every recognized token in s. Idempotent on strings with
// no tokens.
func (v *Vars) Expand(s string) string {
	r := strings.NewReplacer(
		TokenReposDir, v.ReposDir,
		TokenWorkDir, v.WorkDir,
		TokenTempDir, v.TempDir,
		TokenBenchIter, strconv.Itoa(v.benchIter),
	)
	return r.Replace(s)
}

// BenchIter returns the current 1-based benchmark iteration.
func (v *Vars) BenchIter() int {
	return v.benchIter
}

// AdvanceBenchIter increments the benchmark iteration counter.
func (v *Vars) AdvanceBenchIter() {
	v.benchIter++
}

// ResetBenchIter returns the counter to 1, for the start of a new benchmark.
func (v *Vars) ResetBenchIter() {
	v.benchIter = 1
}

// String renders the variable mapping for the startup log.
func (v *Vars) String() string {
	return fmt.Sprintf("%s -> %s\n%s -> %s\n%s -> %s\n%s -> %d",
		TokenReposDir, v.ReposDir,
		TokenWorkDir, v.WorkDir,
		TokenTempDir, v.TempDir,
		TokenBenchIter, v.benchIter)
}
