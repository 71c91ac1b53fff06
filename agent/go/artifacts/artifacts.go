// Package artifacts executes the per-artifact install scripts for a run. The
// server ships each script as text; it is written to a scratch file and run
// through the platform's script interpreter with the build id, hostname, and
// a timeout as CLI arguments.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/go/exec"
	"go.testfarm.build/infra/go/sklog"
	"go.testfarm.build/infra/go/util"
)

const installScriptTimeoutSecs = 60

// Installer runs install scripts for the artifacts of a run.
type Installer struct {
	vars     *magicvars.Vars
	hostname string
	// Interpreter invokes the install scripts; "python" matches the scripts
	// the farm's operators ship today.
	Interpreter string
}

// NewInstaller returns an Installer which passes the given hostname to each
// install script.
func NewInstaller(vars *magicvars.Vars, hostname string) *Installer {
	return &Installer{
		vars:        vars,
		hostname:    hostname,
		Interpreter: "python",
	}
}

// Install runs the install script of each artifact in order. Every script
// runs and every failure is logged, but the overall outcome follows the last
// script's exit status: a failure earlier in the sequence is superseded by a
// later success. An empty artifact list is a success. When the last script
// fails, the returned error carries every failure seen for context.
func (i *Installer) Install(ctx context.Context, artifacts []*farmclient.Artifact) error {
	if len(artifacts) == 0 {
		sklog.Info("No artifacts to install.")
		return nil
	}

	var lastErr error
	var failures *multierror.Error
	for _, artifact := range artifacts {
		def := artifact.ArtifactDefinition
		sklog.Infof("Preparing install script for artifact: %s (Build Name: %s Build ID: %d)", def.Name, artifact.BuildName, artifact.BuildId)
		if err := i.runInstallScript(ctx, artifact); err != nil {
			sklog.Errorf("Install script for artifact %s failed: %s", def.Name, err)
			failures = multierror.Append(failures, fmt.Errorf("artifact %s: %s", def.Name, err))
			lastErr = err
		} else {
			sklog.Infof("Install script for artifact %s executed successfully", def.Name)
			lastErr = nil
		}
	}
	if lastErr != nil {
		return failures.ErrorOrNil()
	}
	return nil
}

func (i *Installer) runInstallScript(ctx context.Context, artifact *farmclient.Artifact) error {
	scriptPath := filepath.Join(i.vars.TempDir, fmt.Sprintf("artifact_install_script_%s.py", uuid.NewString()))
	if err := os.WriteFile(scriptPath, []byte(artifact.ArtifactDefinition.InstallScript), 0755); err != nil {
		return fmt.Errorf("Failed to write install script %s: %s", scriptPath, err)
	}
	// The scratch file is removed regardless of the script's outcome.
	defer util.RemoveAll(scriptPath)

	sklog.Infof("Executing install script: %s", scriptPath)
	output := bytes.Buffer{}
	err := exec.Run(ctx, &exec.Command{
		Name: i.Interpreter,
		Args: []string{
			scriptPath,
			"--build", strconv.FormatInt(artifact.BuildId, 10),
			"--hostname", i.hostname,
			"--timeout", strconv.Itoa(installScriptTimeoutSecs),
		},
		CombinedOutput: &output,
	})
	if err != nil {
		return fmt.Errorf("%s; output:\n%s", err, output.String())
	}
	return nil
}
