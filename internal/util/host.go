package util

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo describes the machine a node runs on.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers static system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	} else {
		info.OS = runtime.GOOS
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ProcessLoad is a point-in-time resource sample of this process. Frame
// stalls often line up with CPU starvation, so it travels with stall reports.
type ProcessLoad struct {
	CPUPercent    float64 `json:"cpu_percent"`
	RSSMB         uint64  `json:"rss_mb"`
	SystemMemUsed float64 `json:"system_mem_used_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSec     int64   `json:"uptime_sec"`
}

var processStart = time.Now()

// GetProcessLoad samples this process and the host memory.
func GetProcessLoad() ProcessLoad {
	load := ProcessLoad{
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(processStart).Seconds()),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := p.CPUPercent(); err == nil {
			load.CPUPercent = pct
		}
		if m, err := p.MemoryInfo(); err == nil {
			load.RSSMB = m.RSS / (1024 * 1024)
		}
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		load.SystemMemUsed = memInfo.UsedPercent
	}
	return load
}

// GetLocalIP returns the primary non-loopback IPv4 address, used to tell
// joiners where to connect.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
