package runtime

import (
	"fmt"
	"math"

	"spikedeploy/internal/model"
)

// Reference evolves the unquantized network in floating point. It shares the
// simulator's update order and multi-spike rule but decays with exp(-dt/tau)
// and never saturates.
type Reference struct {
	spec      model.HardwareSpec
	maxSpikes int

	alphaMemH, alphaSynH []float64
	alphaMemO, alphaSynO []float64

	vmemH, isynH []float64
	vmemO, isynO []float64
	prev, spikes []int
	out          []int
	timestep     int
}

func NewReference(spec model.HardwareSpec, maxSpikesPerStep int) (*Reference, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Dt <= 0 {
		return nil, fmt.Errorf("dt must be positive: %v", spec.Dt)
	}
	if maxSpikesPerStep < 1 {
		return nil, fmt.Errorf("max spikes per step must be positive: %d", maxSpikesPerStep)
	}
	dt := spec.Dt.Seconds()
	r := &Reference{
		spec:      spec.Clone(),
		maxSpikes: maxSpikesPerStep,
		alphaMemH: decays(spec.Hidden.TauMem, dt),
		alphaSynH: decays(spec.Hidden.TauSyn, dt),
		alphaMemO: decays(spec.Output.TauMem, dt),
		alphaSynO: decays(spec.Output.TauSyn, dt),
	}
	r.Reset()
	return r, nil
}

func decays(taus []float64, dt float64) []float64 {
	out := make([]float64, len(taus))
	for i, tau := range taus {
		if tau > 0 {
			out[i] = math.Exp(-dt / tau)
		}
	}
	return out
}

func (r *Reference) Reset() {
	nhid, nout := r.spec.Neurons(), r.spec.Outputs()
	r.vmemH = make([]float64, nhid)
	r.isynH = make([]float64, nhid)
	r.vmemO = make([]float64, nout)
	r.isynO = make([]float64, nout)
	r.prev = make([]int, nhid)
	r.spikes = make([]int, nhid)
	r.out = make([]int, nout)
	r.timestep = 0
}

// Run evolves the reference over input and returns the output frames.
func (r *Reference) Run(input []model.EventFrame, steps int) ([]model.EventFrame, error) {
	steps = Evolution(input, StepOptions{Timesteps: steps})
	raster := make([][]int, steps)
	for _, frame := range input {
		if frame.Timestep < 0 {
			return nil, fmt.Errorf("input frame has negative timestep %d", frame.Timestep)
		}
		if raster[frame.Timestep] == nil {
			raster[frame.Timestep] = make([]int, r.spec.Inputs())
		}
		for _, ev := range frame.Events {
			if ev.Channel < 0 || ev.Channel >= r.spec.Inputs() {
				return nil, fmt.Errorf("input channel %d outside [0,%d)", ev.Channel, r.spec.Inputs())
			}
			if ev.Count < 0 {
				return nil, fmt.Errorf("negative spike count %d on channel %d", ev.Count, ev.Channel)
			}
			raster[frame.Timestep][ev.Channel] += ev.Count
		}
	}

	frames := make([]model.EventFrame, 0, steps)
	for t := 0; t < steps; t++ {
		r.integrate(r.vmemH, r.isynH, r.alphaMemH, r.alphaSynH, r.spec.Hidden.Bias, raster[t], r.spec.WeightsIn, r.prev, r.spec.WeightsRec)
		r.fire(r.vmemH, r.spec.Hidden.Threshold, r.spikes)
		r.integrate(r.vmemO, r.isynO, r.alphaMemO, r.alphaSynO, r.spec.Output.Bias, r.spikes, r.spec.WeightsOut, nil, model.Matrix{})
		r.fire(r.vmemO, r.spec.Output.Threshold, r.out)
		copy(r.prev, r.spikes)
		frames = append(frames, model.FrameFromCounts(r.timestep, r.out))
		r.timestep++
	}
	return frames, nil
}

func (r *Reference) integrate(vmem, isyn, alphaMem, alphaSyn, bias []float64, in []int, w model.Matrix, rec []int, wrec model.Matrix) {
	for j := range isyn {
		cur := isyn[j] * alphaSyn[j]
		for i, n := range in {
			if n != 0 {
				cur += float64(n) * w.At(i, j)
			}
		}
		for k, n := range rec {
			if n != 0 {
				cur += float64(n) * wrec.At(k, j)
			}
		}
		isyn[j] = cur
		vmem[j] = vmem[j]*alphaMem[j] + cur + bias[j]
	}
}

func (r *Reference) fire(vmem, thr []float64, spikes []int) {
	for j, v := range vmem {
		spikes[j] = 0
		if thr[j] <= 0 || v < thr[j] {
			continue
		}
		n := int(math.Floor(v / thr[j]))
		if n > r.maxSpikes {
			n = r.maxSpikes
		}
		vmem[j] -= float64(n) * thr[j]
		spikes[j] = n
	}
}
