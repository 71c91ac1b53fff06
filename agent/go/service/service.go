// Package service runs the executor agent: it registers this host with the
// control plane, polls the grid for jobs, dispatches them to the executor,
// and deregisters on graceful shutdown. Exactly one job executes at a time;
// parallelism across the grid comes from running more agents.
package service

import (
	"context"
	"time"

	"go.testfarm.build/infra/agent/go/artifacts"
	"go.testfarm.build/infra/agent/go/config"
	"go.testfarm.build/infra/agent/go/executor"
	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/agent/go/magicvars"
	"go.testfarm.build/infra/agent/go/reposync"
	"go.testfarm.build/infra/agent/go/workspace"
	"go.testfarm.build/infra/go/metrics2"
	"go.testfarm.build/infra/go/skerr"
	"go.testfarm.build/infra/go/sklog"
)

// defaultPollInterval is how long the agent idles when the grid has no work.
const defaultPollInterval = 60 * time.Second

// Service is one running executor agent.
type Service struct {
	cfg       *config.Config
	farm      *farmclient.Client
	vars      *magicvars.Vars
	workspace *workspace.Manager

	// PollInterval is the idle sleep between polls. Tests shorten it.
	PollInterval time.Duration

	// StepTimeout bounds each job step command; zero leaves steps unbounded.
	StepTimeout time.Duration

	host     *farmclient.Host
	executor *executor.Executor

	stopCh chan struct{}
	doneCh chan struct{}

	jobsExecuted metrics2.Counter
	jobFailures  metrics2.Counter
	pollLiveness metrics2.Liveness
}

// New returns a Service ready to Run.
func New(cfg *config.Config, vars *magicvars.Vars, ws *workspace.Manager, farm *farmclient.Client) *Service {
	return &Service{
		cfg:          cfg,
		farm:         farm,
		vars:         vars,
		workspace:    ws,
		PollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		jobsExecuted: metrics2.GetCounter("jobs_executed", nil),
		jobFailures:  metrics2.GetCounter("job_failures", nil),
		pollLiveness: metrics2.NewLiveness("last_poll", nil),
	}
}

// Executor returns the job executor, available once Run has registered the
// host.
func (s *Service) Executor() *executor.Executor {
	return s.executor
}

// Run registers this host and processes jobs until Stop is called. A
// registration failure is returned immediately and terminates the agent.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.doneCh)

	sklog.Infof("TestFarm executor is starting for grid: %s", s.cfg.Grid.Name)
	sklog.Infof("TestFarm API URL: %s", s.cfg.TestFarmApi.BaseUrl)
	sklog.Infof("Magic variables:\n%s", s.vars.String())

	info, err := SystemInfo()
	if err != nil {
		return err
	}
	host, err := s.farm.RegisterHost(ctx, info, s.cfg.Grid.Name)
	if err != nil {
		return skerr.Wrapf(err, "Failed to register host")
	}
	s.host = host
	sklog.Infof("Host registered successfully with hostname: %s and id: %d", host.Hostname, host.Id)

	installer := artifacts.NewInstaller(s.vars, host.Hostname)
	s.executor = executor.New(s.farm, s.vars, s.workspace, reposync.NewSyncer(s.vars), installer, host)
	s.executor.StepTimeout = s.StepTimeout

	if err := s.farm.UpdateHostStatus(ctx, host.Id, executor.StatusWaiting); err != nil {
		return skerr.Wrapf(err, "Failed to set initial host status")
	}
	sklog.Infof("Host %s status set to %q", host.Hostname, executor.StatusWaiting)

	sklog.Info("Processing loop started.")
	for {
		select {
		case <-s.stopCh:
			s.shutdown(ctx)
			return nil
		default:
		}
		s.pollOnce(ctx)
	}
}

// pollOnce performs one iteration of the loop: poll, dispatch or idle, and
// re-assert the waiting status so the fleet view stays consistent.
func (s *Service) pollOnce(ctx context.Context) {
	s.pollLiveness.Reset()
	job, err := s.farm.GetNextJob(ctx, s.cfg.Grid.Name)
	switch {
	case err != nil:
		sklog.Errorf("Failed to poll for next job: %s", err)
		s.idle()
	case job == nil:
		s.idle()
	default:
		s.dispatch(ctx, job)
	}
	if err := s.farm.UpdateHostStatus(ctx, s.host.Id, executor.StatusWaiting); err != nil {
		sklog.Errorf("Failed to update host status: %s", err)
	}
}

// dispatch routes a job to the right executor. Job errors are logged and the
// job abandoned; the loop itself never dies from a job.
func (s *Service) dispatch(ctx context.Context, job *farmclient.Job) {
	var err error
	switch job.Type {
	case farmclient.JobTypeTest:
		err = s.executor.ExecuteTest(ctx, job)
	case farmclient.JobTypeBench:
		err = s.executor.ExecuteBenchmark(ctx, job)
	default:
		sklog.Errorf("Job %d has unknown type %q; skipping.", job.Id, job.Type)
		return
	}
	s.jobsExecuted.Inc(1)
	if err != nil {
		s.jobFailures.Inc(1)
		sklog.Errorf("Error processing job %d: %s", job.Id, err)
	}
}

// idle sleeps for the poll interval, returning early if a stop arrives.
func (s *Service) idle() {
	select {
	case <-s.stopCh:
	case <-time.After(s.PollInterval):
	}
}

// shutdown reports the host offline and deregisters it. Failures are logged;
// there is nothing else to do with them on the way out.
func (s *Service) shutdown(ctx context.Context) {
	sklog.Info("TestFarm executor is stopping...")
	if s.host == nil {
		return
	}
	if err := s.farm.UpdateHostStatus(ctx, s.host.Id, executor.StatusOffline); err != nil {
		sklog.Errorf("Error during host shutdown: %s", err)
	} else {
		sklog.Infof("Host %s status set to %q", s.host.Hostname, executor.StatusOffline)
	}
	if err := s.farm.UnregisterHost(ctx, s.host.Id); err != nil {
		sklog.Errorf("Error during host shutdown: %s", err)
	} else {
		sklog.Infof("Host %s successfully unregistered", s.host.Hostname)
	}
	sklog.Info("TestFarm executor has stopped.")
}

// Stop signals the loop to exit after the current job, then waits for the
// host to deregister. A job in progress is not cancelled mid-step.
func (s *Service) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}
