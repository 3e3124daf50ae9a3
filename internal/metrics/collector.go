package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one resource sample
type Snapshot struct {
	ProcessCPUPercent float64 // can exceed 100% on multi-core
	ProcessRSSMB      float64
	SystemMemPercent  float64
	Timestamp         time.Time
}

// Collector periodically samples and logs resource usage of the current run
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu      sync.RWMutex
	last    *Snapshot
	peakRSS float64
	samples int
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Get handle to current process for CPU and memory tracking
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start begins periodic collection. Returns nil when ctx is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample immediately so short runs still report something
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return nil
		case <-ticker.C:
			c.logger.Info("Resource usage", c.Collect().fields()...)
		}
	}
}

// Collect takes a sample now
func (c *Collector) Collect() *Snapshot {
	s := &Snapshot{Timestamp: time.Now()}

	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			s.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.SystemMemPercent = vmem.UsedPercent
	}

	c.mu.Lock()
	c.last = s
	c.samples++
	if s.ProcessRSSMB > c.peakRSS {
		c.peakRSS = s.ProcessRSSMB
	}
	c.mu.Unlock()

	return s
}

// Last returns the most recent sample, nil before the first one
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// PeakRSSMB returns the highest resident set size seen
func (c *Collector) PeakRSSMB() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peakRSS
}

// Samples returns the number of samples taken
func (c *Collector) Samples() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.samples
}

func (s *Snapshot) fields() []zap.Field {
	return []zap.Field{
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.String("rss", formatMB(s.ProcessRSSMB)),
		zap.Float64("mem_pct", s.SystemMemPercent),
	}
}

func formatMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%.1fGB", mb/1024)
	}
	return fmt.Sprintf("%.0fMB", mb)
}
