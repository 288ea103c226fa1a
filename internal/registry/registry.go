// Package registry owns the network modules, tracks their lifecycle and
// routes business actions to the selected one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dexflow/internal/metrics"
	"dexflow/internal/model"
	"dexflow/logger"
)

var (
	// ErrUnknownModule is returned for ids that were never registered.
	ErrUnknownModule = errors.New("unknown network module")

	// ErrModuleInitFailed wraps a module's init error in logs. It is never
	// returned to callers.
	ErrModuleInitFailed = errors.New("module init failed")
)

const (
	StateIdle    = "idle"
	StateLoading = "loading"
	StateLoaded  = "loaded"
	StateError   = "error"
)

// Entry registers one module under id.
type Entry struct {
	ID     string
	Label  string
	Module NetworkModule
}

// Descriptor is the lifecycle view of one module.
type Descriptor struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Loading   bool      `json:"loading"`
	Loaded    bool      `json:"loaded"`
	Error     bool      `json:"error"`
	LastError string    `json:"last_error,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State names the single state the descriptor is in.
func (d Descriptor) State() string {
	switch {
	case d.Loading:
		return StateLoading
	case d.Loaded:
		return StateLoaded
	case d.Error:
		return StateError
	default:
		return StateIdle
	}
}

type slot struct {
	module NetworkModule
	desc   Descriptor
	gen    uint64
}

// InitParam targets a single module when both fields are set.
type InitParam struct {
	InitialChain       string
	InitialModuleParam *model.ModuleParam
}

type Registry struct {
	log       *logger.Log
	selector  NetworkSelector
	wallet    WalletStatus
	defaultID string
	order     []string

	mu    sync.RWMutex
	slots map[string]*slot
}

// New registers modules in order. The first one is the default network
// when the selector returns an empty id. A nil wallet is never
// authenticated.
func New(log *logger.Log, selector NetworkSelector, wallet WalletStatus, modules ...Entry) *Registry {
	if log == nil {
		log = logger.GetLogger()
	}
	if selector == nil {
		selector = StaticSelector("")
	}
	r := &Registry{
		log:      log,
		selector: selector,
		wallet:   wallet,
		slots:    make(map[string]*slot, len(modules)),
	}
	for _, e := range modules {
		id := normalizeID(e.ID)
		if _, dup := r.slots[id]; dup || id == "" || e.Module == nil {
			log.WithComponent("registry").WithFields(logger.Fields{"id": e.ID}).Warn("skipping invalid module entry")
			continue
		}
		r.slots[id] = &slot{module: e.Module, desc: Descriptor{ID: id, Label: e.Label}}
		r.order = append(r.order, id)
		metrics.SetModuleState(id, StateIdle)
	}
	if len(r.order) > 0 {
		r.defaultID = r.order[0]
	}
	return r
}

// Modules returns a snapshot of every descriptor in registration order.
func (r *Registry) Modules() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.slots[id].desc)
	}
	return out
}

// Module returns the descriptor of id.
func (r *Registry) Module(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[normalizeID(id)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	return s.desc, nil
}

// CurrentID resolves the selected network, falling back to the default.
func (r *Registry) CurrentID() string {
	if id := normalizeID(r.selector.Current()); id != "" {
		return id
	}
	return r.defaultID
}

// Current returns the module business actions are routed to.
func (r *Registry) Current() (string, NetworkModule, error) {
	id := r.CurrentID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return id, nil, fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	return id, s.module, nil
}

// begin moves id to loading and returns the generation of this run.
func (r *Registry) begin(id, runID string) (NetworkModule, uint64, error) {
	r.mu.Lock()
	s, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	from := s.desc.State()
	s.gen++
	s.desc.Loading, s.desc.Loaded, s.desc.Error = true, false, false
	s.desc.LastError = ""
	s.desc.RunID = runID
	s.desc.UpdatedAt = time.Now()
	gen := s.gen
	r.mu.Unlock()

	r.transition(id, from, StateLoading)
	return s.module, gen, nil
}

// finish records the outcome of run gen. A newer run supersedes it.
func (r *Registry) finish(id string, gen uint64, err error) {
	r.mu.Lock()
	s := r.slots[id]
	if s.gen != gen {
		r.mu.Unlock()
		return
	}
	from := s.desc.State()
	s.desc.Loading = false
	s.desc.Loaded = err == nil
	s.desc.Error = err != nil
	if err != nil {
		s.desc.LastError = err.Error()
	}
	s.desc.UpdatedAt = time.Now()
	to := s.desc.State()
	r.mu.Unlock()

	r.transition(id, from, to)
}

func (r *Registry) transition(id, from, to string) {
	logger.LogTransitionEntry(r.log.WithFields(logger.Fields{"network": id}), "registry", id, from, to)
	metrics.SetModuleState(id, to)
}

// InitialiseModule (re)initialises one module. Module failures are recorded
// in its descriptor and never returned. With wait unset the call returns
// once the init has been started.
func (r *Registry) InitialiseModule(ctx context.Context, id string, params *model.ModuleParam, wait bool) error {
	id = normalizeID(id)
	runID := uuid.NewString()
	module, gen, err := r.begin(id, runID)
	if err != nil {
		return err
	}

	run := func(ctx context.Context) {
		log := r.log.WithComponent("registry").WithFields(logger.Fields{"network": id, "run_id": runID})
		start := time.Now()
		err := safeInit(ctx, module, params)
		metrics.RecordModuleInit(id, err)
		if err != nil {
			log.WithError(fmt.Errorf("%w: %s: %w", ErrModuleInitFailed, id, err)).Error("network module failed to initialise")
		} else {
			logger.LogPerformanceEntry(log, "registry", "module_init", time.Since(start), logger.Fields{"network": id})
		}
		r.finish(id, gen, err)
	}

	if wait {
		run(ctx)
		return nil
	}
	go run(context.WithoutCancel(ctx))
	return nil
}

func safeInit(ctx context.Context, m NetworkModule, params *model.ModuleParam) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during init: %v", rec)
		}
	}()
	return m.Init(ctx, params)
}

// Init initialises the single module named by param when both of its
// fields are set, otherwise every module concurrently. It returns once all
// started inits reached a terminal state, whatever their outcome.
func (r *Registry) Init(ctx context.Context, param *InitParam) error {
	if param != nil && param.InitialChain != "" && param.InitialModuleParam != nil {
		return r.InitialiseModule(ctx, param.InitialChain, param.InitialModuleParam, true)
	}

	var wg sync.WaitGroup
	for _, id := range r.order {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// ids come from the registry itself
			_ = r.InitialiseModule(ctx, id, nil, true)
		}(id)
	}
	wg.Wait()

	loaded := 0
	for _, d := range r.Modules() {
		if d.Loaded {
			loaded++
		}
	}
	r.log.WithComponent("registry").WithFields(logger.Fields{
		"modules": len(r.order),
		"loaded":  loaded,
	}).Info("network modules initialised")
	return nil
}
