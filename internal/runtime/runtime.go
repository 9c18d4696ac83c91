package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
)

type State int32

const (
	StateIdle State = iota
	StateStepping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStepping:
		return "stepping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runtime serializes access to one backend. The backend's neuron state
// persists across Step calls and is only cleared by Reset.
type Runtime struct {
	backend Backend

	mu     sync.Mutex
	config model.Configuration
	loaded bool
	state  atomic.Int32
}

func New(backend Backend) *Runtime {
	return &Runtime{backend: backend}
}

func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Configuration returns the loaded configuration.
func (r *Runtime) Configuration() (model.Configuration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return model.Configuration{}, false
	}
	return r.config.Clone(), true
}

func (r *Runtime) Load(ctx context.Context, config model.Configuration) error {
	if r.backend == nil {
		return fmt.Errorf("%w: no backend attached", ErrRuntimeUnavailable)
	}
	if !config.Valid {
		return fmt.Errorf("configuration %s is not marked valid", config.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.backend.Load(ctx, config); err != nil {
		return err
	}
	r.config = config.Clone()
	r.loaded = true
	klog.FromContext(ctx).Info("configuration loaded",
		"id", config.ID,
		"inputs", config.Routing.InputChannels,
		"hidden", config.Routing.HiddenNeurons,
		"outputs", config.Routing.OutputChannels,
		"dt", config.Timing.Dt)
	return nil
}

// Step evolves the backend over input. A zero-length evolution returns an
// empty result without touching the backend.
func (r *Runtime) Step(ctx context.Context, input []model.EventFrame, opts StepOptions) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	for _, frame := range input {
		if frame.Timestep < 0 {
			return StepResult{}, fmt.Errorf("input frame has negative timestep %d", frame.Timestep)
		}
	}
	if Evolution(input, opts) == 0 {
		return StepResult{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return StepResult{}, fmt.Errorf("%w: no backend attached", ErrRuntimeUnavailable)
	}
	if !r.loaded {
		return StepResult{}, fmt.Errorf("%w: no configuration loaded", ErrRuntimeUnavailable)
	}

	r.state.Store(int32(StateStepping))
	defer r.state.Store(int32(StateIdle))
	return r.backend.Step(ctx, input, opts)
}

func (r *Runtime) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return fmt.Errorf("%w: no backend attached", ErrRuntimeUnavailable)
	}
	if err := r.backend.Reset(ctx); err != nil {
		return err
	}
	klog.FromContext(ctx).V(2).Info("runtime state reset")
	return nil
}
