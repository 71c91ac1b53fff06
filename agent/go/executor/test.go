package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.testfarm.build/infra/agent/go/diffreport"
	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/jobspec"
	"go.testfarm.build/infra/go/skerr"
	"go.testfarm.build/infra/go/sklog"
)

// archiveFileName is the fixed name of the workspace archive in scratch
// space; the server keys uploads by result id, not by file name.
const archiveFileName = "result_temp_archive.7z"

// ExecuteTest drives one scheduled test job to completion. Errors abandon
// the job; the agent loop recovers per-job, never mid-step.
func (e *Executor) ExecuteTest(ctx context.Context, job *farmclient.Job) error {
	test, err := e.farm.GetScheduledTest(ctx, job.ResultId)
	if err != nil {
		return err
	}
	if test == nil {
		sklog.Warningf("No scheduled test found for job: %d", job.Id)
		return nil
	}

	if err := e.workspace.CleanupWorkDir(); err != nil {
		return err
	}

	sklog.Infof("Received test: %s (ID: %d)", test.Test.Name, test.Id)
	localRepo, err := e.repos.Sync(ctx, &test.Repository)
	if err != nil {
		return err
	}

	specPath := filepath.Join(localRepo, test.Test.Path, jobspec.TestFileName)
	sklog.Infof("Looking for test description under %s...", specPath)
	testCase, err := jobspec.ReadTestCase(specPath)
	if err != nil {
		return err
	}
	sklog.Infof("Found test description file: %s", specPath)

	proceed, err := e.installArtifactsIfNeeded(ctx, &test.TestRun, test.Id, testCase.Output)
	if err != nil || !proceed {
		return err
	}

	if err := e.updateStatus(ctx, StatusRunningTest); err != nil {
		return err
	}

	env := e.stepEnv(localRepo)
	cwd := specDir(specPath)

	if err := e.runSteps(ctx, "pre-step", testCase.PreSteps, env, cwd); err != nil {
		return err
	}
	command := e.vars.Expand(testCase.Command)
	sklog.Infof("Executing test command: %s", command)
	if err := e.runStep(ctx, command, env, cwd); err != nil {
		return err
	}
	if err := e.runSteps(ctx, "post-step", testCase.PostSteps, env, cwd); err != nil {
		return err
	}

	testPassed, err := e.checkDiffs(ctx, test, testCase.Diffs, cwd)
	if err != nil {
		return err
	}

	e.archiveAndUpload(ctx, test.Id)

	output, err := e.readExecutionOutput(testCase.Output)
	if err != nil {
		return err
	}
	atomicResults := e.readFileIfPresent(testCase.AtomicResults)

	status := resultPassed
	if testPassed {
		sklog.Info("Test PASSED! Publishing results...")
	} else {
		status = resultFailed
		sklog.Info("Test FAILED! Publishing results...")
	}
	if err := e.farm.CompleteTest(ctx, test.Id, status, output, atomicResults); err != nil {
		return err
	}
	sklog.Info("Test completed.")
	return nil
}

// checkDiffs evaluates every DiffPair in declaration order, uploading one
// DiffOutcome per pair, and reports whether the test passed. A missing file
// fails the test but does not stop the remaining diffs, to maximise what the
// server learns about the run.
func (e *Executor) checkDiffs(ctx context.Context, test *farmclient.TestResult, diffs []jobspec.DiffPair, cwd string) (bool, error) {
	testPassed := true
	for _, diff := range diffs {
		diffName := diffBaseName(diff.Gold)

		goldFile := filepath.Join(cwd, diff.Gold)
		if _, err := os.Stat(goldFile); err != nil {
			testPassed = false
			sklog.Infof("Gold file %s not found!", goldFile)
			if err := e.farm.UploadDiff(ctx, test.Id, diffName, diffNoGoldFile, ""); err != nil {
				return false, err
			}
			continue
		}

		newFile := e.vars.Expand(diff.New)
		if _, err := os.Stat(newFile); err != nil {
			testPassed = false
			sklog.Infof("New file %s not found!", newFile)
			if err := e.farm.UploadDiff(ctx, test.Id, diffName, diffNoNewFile, ""); err != nil {
				return false, err
			}
			continue
		}

		reportFile := filepath.Join(e.vars.WorkDir, diffName+".html")
		if err := diffreport.WriteReport(goldFile, newFile, reportFile, diff.Encoding); err != nil {
			return false, err
		}

		st, err := os.Stat(reportFile)
		if err != nil {
			return false, skerr.Wrap(err)
		}
		if st.Size() > 0 {
			sklog.Infof("Differences found in %s vs %s", diff.Gold, diff.New)
			sklog.Infof("HTML difference report generated: %s", reportFile)
			testPassed = false
			if err := e.farm.UploadDiff(ctx, test.Id, diffName, diffFailed, reportFile); err != nil {
				return false, err
			}
		} else {
			sklog.Infof("No differences found in %s vs %s", diff.Gold, diff.New)
			if err := e.farm.UploadDiff(ctx, test.Id, diffName, diffPassed, ""); err != nil {
				return false, err
			}
		}
	}
	return testPassed, nil
}

// archiveAndUpload archives the work dir and uploads it. Failures here are
// logged but never change the test outcome; the upload is simply skipped.
func (e *Executor) archiveAndUpload(ctx context.Context, testResultId int64) {
	archivePath := filepath.Join(e.vars.TempDir, archiveFileName)
	if err := e.workspace.ArchiveWorkDir(archivePath); err != nil {
		sklog.Errorf("Failed to create workspace archive: %s", err)
		return
	}
	if err := e.farm.UploadTempDirArchive(ctx, testResultId, archivePath); err != nil {
		sklog.Errorf("Failed to upload workspace archive: %s", err)
		return
	}
	sklog.Infof("Successfully created archive at %s and uploaded", archivePath)
}

// diffBaseName derives a DiffOutcome name from the gold file's basename,
// without its extension.
func diffBaseName(goldPath string) string {
	base := filepath.Base(goldPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
