package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	expect "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/go/exec"
	"go.testfarm.build/infra/go/testutils/unittest"
)

func artifact(name, script string, buildId int64) *farmclient.Artifact {
	return &farmclient.Artifact{
		Id: buildId,
		ArtifactDefinition: farmclient.ArtifactDefinition{
			Id:            buildId,
			Name:          name,
			InstallScript: script,
		},
		BuildId:   buildId,
		BuildName: name + "-build",
	}
}

func newInstaller(t *testing.T) (*Installer, *magicvars.Vars) {
	root := t.TempDir()
	vars := magicvars.New(
		filepath.Join(root, "repos"),
		filepath.Join(root, "work"),
		filepath.Join(root, "temp"),
	)
	require.NoError(t, os.MkdirAll(vars.TempDir, 0755))
	return NewInstaller(vars, "farm-host-01"), vars
}

func TestInstallNoArtifactsSucceeds(t *testing.T) {
	unittest.SmallTest(t)
	installer, _ := newInstaller(t)
	require.NoError(t, installer.Install(context.Background(), nil))
	require.NoError(t, installer.Install(context.Background(), []*farmclient.Artifact{}))
}

func TestInstallRunsScriptWithArgs(t *testing.T) {
	unittest.SmallTest(t)
	installer, vars := newInstaller(t)

	var captured *exec.Command
	var scriptContents string
	ctx := exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		captured = cmd
		b, err := os.ReadFile(cmd.Args[0])
		require.NoError(t, err)
		scriptContents = string(b)
		return nil
	})

	require.NoError(t, installer.Install(ctx, []*farmclient.Artifact{
		artifact("driver", "import sys\nsys.exit(0)\n", 900),
	}))

	require.NotNil(t, captured)
	expect.Equal(t, "python", captured.Name)
	require.Len(t, captured.Args, 7)
	expect.True(t, strings.HasPrefix(captured.Args[0], filepath.Join(vars.TempDir, "artifact_install_script_")))
	expect.True(t, strings.HasSuffix(captured.Args[0], ".py"))
	expect.Equal(t, []string{"--build", "900", "--hostname", "farm-host-01", "--timeout", "60"}, captured.Args[1:])
	expect.Equal(t, "import sys\nsys.exit(0)\n", scriptContents)

	// The scratch script is removed after the run.
	_, err := os.Stat(captured.Args[0])
	expect.True(t, os.IsNotExist(err))
}

func TestInstallScratchRemovedOnFailure(t *testing.T) {
	unittest.SmallTest(t)
	installer, _ := newInstaller(t)

	var scriptPath string
	ctx := exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		scriptPath = cmd.Args[0]
		return errors.New("exit status 1")
	})

	err := installer.Install(ctx, []*farmclient.Artifact{artifact("driver", "boom", 1)})
	require.Error(t, err)
	_, statErr := os.Stat(scriptPath)
	expect.True(t, os.IsNotExist(statErr))
}

func TestInstallLastArtifactDecidesOutcome(t *testing.T) {
	unittest.SmallTest(t)
	installer, _ := newInstaller(t)

	// First script fails, second succeeds; the last script's exit decides,
	// so the install succeeds, and both scripts ran.
	runs := 0
	ctx := exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		runs++
		if runs == 1 {
			return errors.New("exit status 2")
		}
		return nil
	})
	require.NoError(t, installer.Install(ctx, []*farmclient.Artifact{
		artifact("broken", "x", 1),
		artifact("fine", "y", 2),
	}))
	expect.Equal(t, 2, runs)

	// First script succeeds, second fails; the install is failed.
	runs = 0
	ctx = exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		runs++
		if runs == 2 {
			return errors.New("exit status 2")
		}
		return nil
	})
	err := installer.Install(ctx, []*farmclient.Artifact{
		artifact("fine", "x", 1),
		artifact("broken", "y", 2),
	})
	require.Error(t, err)
	expect.Equal(t, 2, runs)
	expect.Contains(t, err.Error(), "broken")
}

func TestInstallAllSucceed(t *testing.T) {
	unittest.SmallTest(t)
	installer, _ := newInstaller(t)
	runs := 0
	ctx := exec.NewContext(context.Background(), func(ctx context.Context, cmd *exec.Command) error {
		runs++
		return nil
	})
	require.NoError(t, installer.Install(ctx, []*farmclient.Artifact{
		artifact("a", "x", 1),
		artifact("b", "y", 2),
	}))
	expect.Equal(t, 2, runs)
}
