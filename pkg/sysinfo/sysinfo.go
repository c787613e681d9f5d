// Package sysinfo collects host details recorded alongside each run.
package sysinfo

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/ethpandaops/regressoor/pkg/history"
)

// Collect gathers host information. Partial failures leave fields empty
// rather than failing the run.
func Collect(ctx context.Context) *history.SystemInfo {
	info := &history.SystemInfo{}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.KernelVersion = h.KernelVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryGB = float64(vm.Total) / (1 << 30)
	}

	return info
}
