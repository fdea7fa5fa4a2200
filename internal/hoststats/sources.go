package hoststats

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one gauge reading.
// Params: metric name, value and extra tags.
// Returns: value forwarded to a gauge writer.
type Sample struct {
	Name  string
	Value float64
	Tags  []string
}

// Source produces gauge samples on demand.
// Params: context for cancellation and deadlines.
// Returns: samples or read error.
type Source interface {
	Name() string
	Sample(ctx context.Context) ([]Sample, error)
}

// Hostname resolves the host tag for metric points.
// Params: ctx for cancellation.
// Returns: host name from the OS, falling back to os.Hostname.
func Hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err == nil && strings.TrimSpace(info.Hostname) != "" {
		return info.Hostname, nil
	}

	name, fallbackErr := os.Hostname()
	if fallbackErr != nil {
		if err != nil {
			return "", fmt.Errorf("read host info: %w", err)
		}
		return "", fmt.Errorf("read hostname: %w", fallbackErr)
	}
	return name, nil
}

// CPUSource reads total CPU utilization.
type CPUSource struct {
	perCore bool
}

// NewCPUSource creates a CPU source.
// Params: perCore additionally emits one tagged sample per core.
// Returns: configured CPU source.
func NewCPUSource(perCore bool) *CPUSource {
	return &CPUSource{perCore: perCore}
}

// Name returns the source label.
func (s *CPUSource) Name() string { return "cpu" }

// Sample reads utilization since the previous call.
// Params: ctx for cancellation.
// Returns: system.cpu.util samples or error.
func (s *CPUSource) Sample(ctx context.Context) ([]Sample, error) {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("read total CPU percent: %w", err)
	}

	out := make([]Sample, 0, 1)
	if len(total) > 0 {
		out = append(out, Sample{Name: "system.cpu.util", Value: total[0]})
	}
	if !s.perCore {
		return out, nil
	}

	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("read per-core CPU percent: %w", err)
	}
	for idx, util := range perCore {
		out = append(out, Sample{
			Name:  "system.cpu.util",
			Value: util,
			Tags:  []string{fmt.Sprintf("core:%d", idx)},
		})
	}
	return out, nil
}

// MemorySource reads RAM utilization and usage.
type MemorySource struct{}

// NewMemorySource creates a memory source.
func NewMemorySource() *MemorySource { return &MemorySource{} }

// Name returns the source label.
func (s *MemorySource) Name() string { return "mem" }

// Sample reads virtual memory state.
// Params: ctx for cancellation.
// Returns: system.mem.* samples or error.
func (s *MemorySource) Sample(ctx context.Context) ([]Sample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}

	util := 0.0
	if vm.Total > 0 {
		util = (float64(vm.Used) / float64(vm.Total)) * 100
	}
	return []Sample{
		{Name: "system.mem.util", Value: util},
		{Name: "system.mem.used", Value: float64(vm.Used)},
		{Name: "system.mem.available", Value: float64(vm.Available)},
	}, nil
}
