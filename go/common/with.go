// Package common handles application initialization: flags, logging, signal
// handling, and optional metrics export.
package common

import (
	"flag"
	"fmt"
	"runtime"
	"sort"

	"go.testfarm.build/infra/go/cleanup"
	"go.testfarm.build/infra/go/metrics2"
	"go.testfarm.build/infra/go/sklog"
)

// Opt represents the initialization parameters for a single init service.
//
// Initialization is order dependent, and each app may want a different subset
// of options, so each optional piece is encapsulated in its own Opt which
// knows its place in the sequence:
//
//	0 - base
//	1 - prometheus
//
// Construct the Opts that are desired and pass them to common.InitWith():
//
//	common.InitWithMust(
//		"testfarm-executor",
//		common.PrometheusOpt(promPort),
//	)
type Opt interface {
	order() int
	init(appName string) error
}

// optSlice is a utility type for sorting Opts by order().
type optSlice []Opt

func (p optSlice) Len() int           { return len(p) }
func (p optSlice) Less(i, j int) bool { return p[i].order() < p[j].order() }
func (p optSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// baseInitOpt is always constructed internally and always runs first.
type baseInitOpt struct{}

func (b *baseInitOpt) init(appName string) error {
	flag.Parse()
	flag.VisitAll(func(f *flag.Flag) {
		sklog.Infof("Flags: --%s=%v", f.Name, f.Value)
	})

	// Use all cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Enable signal handling for the cleanup package.
	cleanup.Enable()

	return nil
}

func (b *baseInitOpt) order() int {
	return 0
}

// promInitOpt implements Opt for Prometheus.
type promInitOpt struct {
	port *string
}

// PrometheusOpt creates an Opt to initialize Prometheus metrics when passed
// to InitWith().
func PrometheusOpt(port *string) Opt {
	return &promInitOpt{port: port}
}

func (o *promInitOpt) init(appName string) error {
	metrics2.InitPrometheus(*o.port)

	// App uptime.
	_ = metrics2.NewLiveness("uptime", map[string]string{"app": appName})

	// Report log-line counts by severity.
	logMetrics := map[string]metrics2.Counter{}
	for _, sev := range sklog.AllSeverities {
		logMetrics[sev] = metrics2.GetCounter("num_log_lines", map[string]string{"level": sev, "app": appName})
	}
	sklog.SetMetricsCallback(func(severity string) {
		logMetrics[severity].Inc(1)
	})
	return nil
}

func (o *promInitOpt) order() int {
	return 1
}

// InitWith takes Opts and initializes each service in order.
func InitWith(appName string, opts ...Opt) error {
	opts = append(opts, &baseInitOpt{})
	sort.Sort(optSlice(opts))
	for i := 0; i < len(opts)-1; i++ {
		if opts[i].order() == opts[i+1].order() {
			return fmt.Errorf("Only one of each type of Opt can be used.")
		}
	}
	for _, o := range opts {
		if err := o.init(appName); err != nil {
			return err
		}
	}
	sklog.Flush()
	return nil
}

// InitWithMust calls InitWith and fails fatally on error.
func InitWithMust(appName string, opts ...Opt) {
	if err := InitWith(appName, opts...); err != nil {
		sklog.Fatalf("Failed to initialize: %s", err)
	}
}
