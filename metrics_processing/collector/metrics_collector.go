package collector

import (
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"qoerouting/common"
)

func GetCPUUsage() (float64, int, error) {
	usage, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	count, err := cpu.Counts(true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get CPU count: %w", err)
	}
	var total float64
	for _, u := range usage {
		total += u
	}
	if len(usage) > 0 {
		total /= float64(len(usage))
	}
	return total, count, nil
}

func GetMemoryUsedPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to get memory info: %w", err)
	}
	return v.UsedPercent, nil
}

func GetLoad1() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, fmt.Errorf("failed to get system load: %w", err)
	}
	return avg.Load1, nil
}

// CollectHostSnapshot samples the controller host for the session report.
func CollectHostSnapshot() (*common.HostSnapshot, error) {
	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	usage, count, err := GetCPUUsage()
	if err != nil {
		return nil, err
	}

	memUsed, err := GetMemoryUsedPercent()
	if err != nil {
		return nil, err
	}

	load1, err := GetLoad1()
	if err != nil {
		return nil, err
	}

	return &common.HostSnapshot{
		Hostname:    info.Hostname,
		CPUPercent:  math.Round(usage*100) / 100,
		MemUsedPct:  math.Round(memUsed*100) / 100,
		Load1:       load1,
		NumCPU:      count,
		UptimeSecs:  info.Uptime,
		CollectedAt: time.Now().Unix(),
	}, nil
}
