package sauceconnect

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	maxCPUPercent    = 95.0
	maxMemoryPercent = 95.0
	cpuSampleWindow  = 200 * time.Millisecond
)

// CheckSystemResources refuses new tunnels when the node is close to
// exhausting CPU or memory. sc needs headroom to proxy browser traffic.
func CheckSystemResources(ctx context.Context) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vm.UsedPercent >= maxMemoryPercent {
		return fmt.Errorf("memory usage is %.1f%%, refusing to start another tunnel", vm.UsedPercent)
	}

	percents, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err == nil && len(percents) > 0 && percents[0] >= maxCPUPercent {
		return fmt.Errorf("cpu usage is %.1f%%, refusing to start another tunnel", percents[0])
	}
	return nil
}
