package hoststats

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SwapSource reads swap usage.
type SwapSource struct{}

// NewSwapSource creates a swap source.
func NewSwapSource() *SwapSource { return &SwapSource{} }

// Name returns the source label.
func (s *SwapSource) Name() string { return "swap" }

// Sample reads swap totals and utilization.
// Params: ctx for cancellation.
// Returns: system.swap.* samples or error.
func (s *SwapSource) Sample(ctx context.Context) ([]Sample, error) {
	sm, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read swap memory: %w", err)
	}

	util := 0.0
	if sm.Total > 0 {
		util = (float64(sm.Used) / float64(sm.Total)) * 100
	}
	return []Sample{
		{Name: "system.swap.util", Value: util},
		{Name: "system.swap.used", Value: float64(sm.Used)},
	}, nil
}

// FilesystemSource reads usage of mounted filesystems, tagged by mountpoint.
type FilesystemSource struct{}

// NewFilesystemSource creates a filesystem source.
func NewFilesystemSource() *FilesystemSource { return &FilesystemSource{} }

// Name returns the source label.
func (s *FilesystemSource) Name() string { return "fs" }

// Sample reads every physical partition.
// Params: ctx for cancellation.
// Returns: system.fs.* samples per mountpoint, or error when every read fails.
func (s *FilesystemSource) Sample(ctx context.Context) ([]Sample, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}

	out := make([]Sample, 0, len(partitions)*2)
	skipped := 0
	for _, part := range partitions {
		mount := strings.TrimSpace(part.Mountpoint)
		if mount == "" {
			skipped++
			continue
		}
		usage, usageErr := disk.UsageWithContext(ctx, mount)
		if usageErr != nil {
			skipped++
			continue
		}

		inodes := usage.InodesUsedPercent
		if math.IsNaN(inodes) || math.IsInf(inodes, 0) {
			inodes = 0
		}
		tags := []string{"mount:" + mount}
		out = append(out,
			Sample{Name: "system.fs.util", Value: usage.UsedPercent, Tags: tags},
			Sample{Name: "system.fs.inodes_util", Value: inodes, Tags: tags},
		)
	}

	if len(out) == 0 && skipped > 0 {
		return nil, fmt.Errorf("all filesystem usage reads failed")
	}
	return out, nil
}

// ProcessSource reads CPU and memory of the current process.
type ProcessSource struct {
	proc *process.Process
}

// NewProcessSource attaches to the running process.
// Params: ctx for cancellation.
// Returns: process source or lookup error.
func NewProcessSource(ctx context.Context) (*ProcessSource, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	return &ProcessSource{proc: proc}, nil
}

// Name returns the source label.
func (s *ProcessSource) Name() string { return "process" }

// Sample reads CPU percent since the previous call and resident memory.
// Params: ctx for cancellation.
// Returns: process.* samples or error.
func (s *ProcessSource) Sample(ctx context.Context) ([]Sample, error) {
	cpuPercent, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read process cpu: %w", err)
	}
	memInfo, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read process memory: %w", err)
	}
	return []Sample{
		{Name: "process.cpu.util", Value: cpuPercent},
		{Name: "process.mem.rss", Value: float64(memInfo.RSS)},
	}, nil
}
