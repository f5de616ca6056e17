package telemetry

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var vcgencmdTemp = regexp.MustCompile(`temp=([\d.]+)`)

// cpuTemperature reads the SoC temperature via vcgencmd, falling back to
// the generic thermal sysfs node on non-Pi hosts.
func cpuTemperature() (float64, error) {
	if out, err := exec.Command("vcgencmd", "measure_temp").Output(); err == nil {
		if m := vcgencmdTemp.FindSubmatch(out); m != nil {
			if t, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
				return t, nil
			}
		}
	}

	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, fmt.Errorf("no temperature source available: %w", err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse thermal zone: %w", err)
	}
	return milli / 1000, nil
}

// gpuTemperature reads the GPU temperature. On the Pi the GPU shares the
// die with the CPU, so this is the same sensor.
func gpuTemperature() (float64, error) {
	return cpuTemperature()
}

// systemInfo is the host metrics block included in the retained status
// payload.
type systemInfo struct {
	Hostname      string     `json:"hostname"`
	CPUTemp       float64    `json:"cpu_temp"`
	GPUTemp       float64    `json:"gpu_temp"`
	UptimeSeconds uint64     `json:"uptime_seconds"`
	Load          [3]float64 `json:"load"`
	Memory        memoryInfo `json:"memory"`
}

type memoryInfo struct {
	TotalMB     uint64  `json:"total"`
	UsedMB      uint64  `json:"used"`
	FreeMB      uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// collectSystemInfo gathers host metrics. Individual source failures leave
// zero values; a single unreadable sensor never aborts the sample.
func collectSystemInfo() systemInfo {
	info := systemInfo{}
	info.Hostname, _ = os.Hostname()

	info.CPUTemp, _ = cpuTemperature()
	info.GPUTemp, _ = gpuTemperature()
	info.UptimeSeconds, _ = host.Uptime()

	if avg, err := load.Avg(); err == nil {
		info.Load = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.Memory = memoryInfo{
			TotalMB:     vm.Total >> 20,
			UsedMB:      vm.Used >> 20,
			FreeMB:      vm.Free >> 20,
			UsedPercent: vm.UsedPercent,
		}
	}
	return info
}
