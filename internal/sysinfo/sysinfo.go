// Package sysinfo collects a point-in-time snapshot of the machine for
// the status command: host identity, CPU, memory, and disk usage per
// safe zone.
package sysinfo

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// ZoneUsage is the disk usage of the filesystem backing one safe zone.
type ZoneUsage struct {
	Zone        string  `json:"zone"`
	TotalBytes  uint64  `json:"totalBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// Snapshot is one collected report.
type Snapshot struct {
	Hostname    string        `json:"hostname"`
	OS          string        `json:"os"`
	Platform    string        `json:"platform"`
	Uptime      time.Duration `json:"uptime"`
	CPUCount    int           `json:"cpuCount"`
	CPUModel    string        `json:"cpuModel,omitempty"`
	MemTotal    uint64        `json:"memTotal"`
	MemFree     uint64        `json:"memFree"`
	MemUsedPerc float64       `json:"memUsedPercent"`
	Zones       []ZoneUsage   `json:"zones,omitempty"`
}

// Collect gathers a snapshot. Per-zone disk usage failures are skipped
// rather than failing the whole report; a zone may sit on an unmounted
// volume.
func Collect(zones []string) (*Snapshot, error) {
	s := &Snapshot{}

	if hi, err := host.Info(); err == nil {
		s.Hostname = hi.Hostname
		s.OS = hi.OS
		s.Platform = hi.Platform
		s.Uptime = time.Duration(hi.Uptime) * time.Second
	}

	counts, err := cpu.Counts(true)
	if err != nil {
		return nil, err
	}
	s.CPUCount = counts
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	s.MemTotal = vm.Total
	s.MemFree = vm.Available
	s.MemUsedPerc = vm.UsedPercent

	for _, z := range zones {
		du, err := disk.Usage(z)
		if err != nil {
			continue
		}
		s.Zones = append(s.Zones, ZoneUsage{
			Zone:        z,
			TotalBytes:  du.Total,
			FreeBytes:   du.Free,
			UsedPercent: du.UsedPercent,
		})
	}

	return s, nil
}
