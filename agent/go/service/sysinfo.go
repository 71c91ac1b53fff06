package service

import (
	"math"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"go.testfarm.build/infra/agent/go/farmclient"
	"go.testfarm.build/infra/go/skerr"
)

// hostType is the fixed host type this agent registers as.
const hostType = "tests"

// SystemInfo interrogates the machine for the attributes the control plane
// tracks per host: hostname, physical core count, and total RAM in GiB
// (rounded).
func SystemInfo() (farmclient.HostSystemInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return farmclient.HostSystemInfo{}, skerr.Wrapf(err, "Could not determine hostname")
	}
	cores, err := cpu.Counts(false)
	if err != nil {
		return farmclient.HostSystemInfo{}, skerr.Wrapf(err, "Could not count physical cores")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return farmclient.HostSystemInfo{}, skerr.Wrapf(err, "Could not read memory size")
	}
	return farmclient.HostSystemInfo{
		Hostname: hostname,
		Cores:    cores,
		RAM:      int64(math.Round(float64(vm.Total) / (1 << 30))),
		Type:     hostType,
	}, nil
}
