package dashboard

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"dexflow/logger"
)

// resourceSnapshot is one sample of the daemon's state: which networks are
// loaded, how stale the cached prices are and what the process costs.
type resourceSnapshot struct {
	Timestamp  time.Time          `json:"timestamp"`
	Current    string             `json:"current,omitempty"`
	Modules    map[string]string  `json:"modules,omitempty"`
	Loaded     int                `json:"loaded"`
	PriceAges  map[string]float64 `json:"price_age_seconds,omitempty"`
	Goroutines int                `json:"goroutines"`
	CPUPercent float64            `json:"cpu_percent"`
	MemoryPct  float64            `json:"memory_percent"`
}

type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	limit    int
	interval time.Duration
	deps     Deps

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	timeNowFn     = time.Now
)

func newResourceSampler(limit int, interval time.Duration, deps Deps, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{limit: limit, interval: interval, deps: deps, log: log}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.cancel != nil {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]resourceSnapshot(nil), s.items...)
}

func (s *resourceSampler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.append(s.sample(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *resourceSampler) append(snap resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snap)
	if len(s.items) > s.limit {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-s.limit:]...)
	}
}

// sample reads registry and price cache state first. Host statistics that
// fail to load are left at zero.
func (s *resourceSampler) sample(ctx context.Context) resourceSnapshot {
	now := timeNowFn()
	snap := resourceSnapshot{Timestamp: now, Goroutines: runtime.NumGoroutine()}

	if mods := s.deps.Modules; mods != nil {
		snap.Current = mods.CurrentID()
		snap.Modules = make(map[string]string)
		for _, d := range mods.Modules() {
			snap.Modules[d.ID] = d.State()
			if d.Loaded {
				snap.Loaded++
			}
		}
	}
	if prices := s.deps.Prices; prices != nil {
		snap.PriceAges = make(map[string]float64)
		for key, cached := range prices.Snapshots() {
			if cached.LastChecked.IsZero() {
				continue
			}
			snap.PriceAges[key] = now.Sub(cached.LastChecked).Seconds()
		}
	}

	if samples, err := cpuPercentFn(ctx); err != nil {
		s.log.WithComponent("dashboard").WithError(err).Debug("failed to sample cpu usage")
	} else if len(samples) > 0 {
		snap.CPUPercent = samples[0]
	}
	if vm, err := memoryStatsFn(ctx); err != nil {
		s.log.WithComponent("dashboard").WithError(err).Debug("failed to sample memory usage")
	} else {
		snap.MemoryPct = vm.UsedPercent
	}
	return snap
}
