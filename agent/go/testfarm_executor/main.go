// The testfarm_executor is the agent installed on every grid host. It
// registers the host with the Farm API, polls for scheduled test and
// benchmark jobs, executes them, and reports their outcomes. A service
// manager normally supervises the process; --debug runs it in the foreground
// with logs on stderr.
package main

import (
	"context"
	"flag"
	"path/filepath"

	"go.testfarm.build/infra/agent/go/config"
	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/agent/go/service"
	"go.testfarm.build/infra/agent/go/workspace"
	"go.testfarm.build/infra/go/cleanup"
	"go.testfarm.build/infra/go/common"
	"go.testfarm.build/infra/go/sklog"
)

var (
	configFile    = flag.String("config", "config.json", "Path to the agent configuration file.")
	workspaceRoot = flag.String("workspace_root", "testfarm_workspace", "Root of the on-disk workspace tree owned by this agent.")
	promPort      = flag.String("prom_port", ":20000", "Metrics service address (e.g., ':20000')")
	debug         = flag.Bool("debug", false, "Run in the foreground with logging to stderr instead of the configured log directory.")
	stepTimeout   = flag.Duration("step_timeout", 0, "Optional bound on each job step command; 0 means unbounded.")
)

func main() {
	common.InitWithMust(
		"testfarm-executor",
		common.PrometheusOpt(promPort),
	)

	cfg, err := config.Load(*configFile)
	if err != nil {
		sklog.Fatalf("Failed to load configuration: %s", err)
	}

	// Point glog at the configured log directory unless running in debug
	// mode, where logs go to the console.
	if *debug {
		setFlag("logtostderr", "true")
	} else if cfg.Logging.LogDir != "" {
		setFlag("log_dir", cfg.Logging.LogDir)
	}

	root := *workspaceRoot
	vars := magicvars.New(
		filepath.Join(root, "repos"),
		filepath.Join(root, "work"),
		filepath.Join(root, "temp"),
	)

	ctx := context.Background()
	ws := workspace.NewManager(vars, workspace.NewSevenZipArchiver(ctx))
	if err := ws.Init(); err != nil {
		sklog.Fatalf("Failed to initialize workspace: %s", err)
	}

	s := service.New(cfg, vars, ws, farmclient.New(cfg.TestFarmApi))
	s.StepTimeout = *stepTimeout
	cleanup.AtExit(s.Stop)

	if err := s.Run(ctx); err != nil {
		sklog.Fatalf("Agent terminated: %s", err)
	}
	sklog.Flush()
}

// setFlag sets a flag registered by another package (glog), ignoring lookup
// failures so a glog version without the flag does not crash startup.
func setFlag(name, value string) {
	if f := flag.Lookup(name); f != nil {
		if err := f.Value.Set(value); err != nil {
			sklog.Errorf("Failed to set --%s=%s: %s", name, value, err)
		}
	}
}
