package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type componentStat struct {
	warns  int64
	errors int64
}

// ReportSource contributes fields to the periodic runtime report.
type ReportSource func() Fields

var (
	components sync.Map // map[string]*componentStat

	reportSourcesMu sync.RWMutex
	reportSources   = map[string]ReportSource{}
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// ComponentCounts returns the warn and error counts logged for component.
func ComponentCounts(component string) (warns, errors int64) {
	v, ok := components.Load(component)
	if !ok {
		return 0, 0
	}
	cs := v.(*componentStat)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
}

// RegisterReportSource adds fields produced by fn to every report under name.
// Registering the same name again replaces the previous source.
func RegisterReportSource(name string, fn ReportSource) {
	reportSourcesMu.Lock()
	defer reportSourcesMu.Unlock()
	if fn == nil {
		delete(reportSources, name)
		return
	}
	reportSources[name] = fn
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of process and component statistics
// until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func buildReport() Fields {
	cpuPct := 0.0
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memoryMB := int64(0)
	if memStats, err := mem.VirtualMemory(); err == nil {
		memoryMB = int64(memStats.Used) / 1024 / 1024
	}

	counts := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		counts[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	fields := Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memoryMB,
		"components":  counts,
	}

	reportSourcesMu.RLock()
	names := make([]string, 0, len(reportSources))
	for name := range reportSources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields[name] = reportSources[name]()
	}
	reportSourcesMu.RUnlock()

	return fields
}

func logReport(log *Log) {
	log.WithComponent("report").WithFields(buildReport()).Info("runtime report")
}
