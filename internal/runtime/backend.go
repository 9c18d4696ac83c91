package runtime

import (
	"context"
	"errors"

	"spikedeploy/internal/model"
)

var (
	// ErrRuntimeUnavailable means the backend cannot step right now: no
	// device is attached or no configuration has been loaded.
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
	// ErrDeviceIO wraps transport failures talking to a physical device.
	ErrDeviceIO = errors.New("device I/O error")
)

// Telemetry keys reported when StepOptions.RecordPower is set.
const (
	TelemetrySynapticOps  = "synaptic_ops"
	TelemetryHiddenSpikes = "hidden_spikes"
	TelemetryOutputSpikes = "output_spikes"
	TelemetryEnergyJoules = "energy_joules"
)

type StepOptions struct {
	// Timesteps extends the evolution past the last input frame with empty
	// input. The evolution length is max(Timesteps, last input timestep+1).
	Timesteps           int
	RecordInternalState bool
	RecordPower         bool
}

// Trace holds per-timestep internal state, indexed [timestep][neuron].
type Trace struct {
	HiddenVmem   [][]int32 `json:"hidden_vmem"`
	HiddenIsyn   [][]int32 `json:"hidden_isyn"`
	HiddenSpikes [][]int   `json:"hidden_spikes"`
	OutputVmem   [][]int32 `json:"output_vmem"`
	OutputIsyn   [][]int32 `json:"output_isyn"`
}

type StepResult struct {
	// Frames has one frame per evolved timestep with absolute timestep
	// indices. It is empty when the backend had no data to return.
	Frames    []model.EventFrame
	Trace     *Trace
	Telemetry map[string]float64
}

func (r StepResult) Empty() bool {
	return len(r.Frames) == 0
}

// Backend is the capability contract of an accelerator, simulated or
// physical. Input frame timesteps are relative to the start of the call.
type Backend interface {
	Load(ctx context.Context, config model.Configuration) error
	Step(ctx context.Context, input []model.EventFrame, opts StepOptions) (StepResult, error)
	Reset(ctx context.Context) error
}

// Evolution returns the number of timesteps a step call covers.
func Evolution(input []model.EventFrame, opts StepOptions) int {
	n := opts.Timesteps
	for _, frame := range input {
		if frame.Timestep+1 > n {
			n = frame.Timestep + 1
		}
	}
	return n
}
