package executor

import (
	"context"
	"path/filepath"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/jobspec"
	"go.testfarm.build/infra/go/sklog"
)

// ExecuteBenchmark drives one scheduled benchmark job to completion. The
// preamble matches tests; afterwards the command runs for the configured
// number of iterations with $__TF_BENCH_ITER__ advanced between them. No
// diff checking or workspace archiving is performed for benchmarks.
func (e *Executor) ExecuteBenchmark(ctx context.Context, job *farmclient.Job) error {
	benchmark, err := e.farm.GetScheduledBenchmark(ctx, job.ResultId)
	if err != nil {
		return err
	}
	if benchmark == nil {
		sklog.Warningf("No scheduled benchmark found for job: %d", job.Id)
		return nil
	}

	if err := e.workspace.CleanupWorkDir(); err != nil {
		return err
	}

	sklog.Infof("Received benchmark: %s (ID: %d)", benchmark.Benchmark.Name, benchmark.Id)
	localRepo, err := e.repos.Sync(ctx, &benchmark.Repository)
	if err != nil {
		return err
	}

	specPath := filepath.Join(localRepo, benchmark.Benchmark.Path, jobspec.BenchmarkFileName)
	sklog.Infof("Looking for benchmark description under %s...", specPath)
	benchCase, err := jobspec.ReadBenchmarkCase(specPath)
	if err != nil {
		return err
	}
	sklog.Infof("Found benchmark description file: %s", specPath)

	proceed, err := e.installArtifactsIfNeeded(ctx, &benchmark.BenchmarkRun, benchmark.Id, benchCase.Output)
	if err != nil || !proceed {
		return err
	}

	if err := e.updateStatus(ctx, StatusRunningBenchmark); err != nil {
		return err
	}

	env := e.stepEnv(localRepo)
	cwd := specDir(specPath)
	e.vars.ResetBenchIter()

	if err := e.runSteps(ctx, "pre-bench-step", benchCase.PreBenchSteps, env, cwd); err != nil {
		return err
	}

	for iteration := 1; iteration <= benchCase.Iterations; iteration++ {
		sklog.Infof("Starting iteration %d of %d", iteration, benchCase.Iterations)

		if err := e.runSteps(ctx, "pre-iter-step", benchCase.PreIterSteps, env, cwd); err != nil {
			return err
		}
		command := e.vars.Expand(benchCase.Command)
		sklog.Infof("Executing benchmark command: %s", command)
		if err := e.runStep(ctx, command, env, cwd); err != nil {
			return err
		}
		if err := e.runSteps(ctx, "post-iter-step", benchCase.PostIterSteps, env, cwd); err != nil {
			return err
		}

		sklog.Infof("Iteration %d of %d completed", iteration, benchCase.Iterations)
		e.vars.AdvanceBenchIter()
	}

	if err := e.runSteps(ctx, "post-bench-step", benchCase.PostBenchSteps, env, cwd); err != nil {
		return err
	}

	sklog.Info("Benchmark finished! Publishing results...")
	if err := e.farm.CompleteBenchmark(ctx, benchmark.Id); err != nil {
		return err
	}
	resultsPath := e.vars.Expand(benchCase.Results)
	if err := e.farm.UploadBenchmarkResults(ctx, benchmark.Id, resultsPath); err != nil {
		return err
	}
	sklog.Info("Benchmark completed.")
	return nil
}
