package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// HostDetector implements Detector using runtime and gopsutil host data.
type HostDetector struct {
	goos   string
	goarch string
	lookup func(ctx context.Context) (*host.InfoStat, error)
}

// NewDetector creates a detector for the running host.
func NewDetector() *HostDetector {
	return &HostDetector{
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		lookup: host.InfoWithContext,
	}
}

// Detect returns platform information. OS and architecture always come from
// the compiled target. Distribution and kernel details are best effort: when
// gopsutil cannot read them the basic fields are still returned.
func (d *HostDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      d.goos,
		ArchRaw: d.goarch,
		Arch:    normalizeArch(d.goarch),
	}

	stat, err := d.lookup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	info.Version = normalize(stat.PlatformVersion)
	info.Kernel = normalize(stat.KernelVersion)
	if info.IsLinux() {
		if distro := normalize(stat.Platform); distro != "" {
			info.Distro = distro
			info.Family = mapFamily(stat.PlatformFamily)
		}
	}

	return info, nil
}
