package runtime

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
)

// Energy estimates used for the power telemetry proxy.
const (
	EnergyPerSynapticOp = 12e-12
	EnergyPerSpike      = 40e-12
)

// population is the integer state of one bank of neurons.
type population struct {
	vmem    []int32
	isyn    []int32
	spikes  []int
	thr     []int32
	bias    []int32
	dashMem []int
	dashSyn []int
}

func newPopulation(p model.QuantizedParams) *population {
	n := p.Len()
	return &population{
		vmem:    make([]int32, n),
		isyn:    make([]int32, n),
		spikes:  make([]int, n),
		thr:     append([]int32(nil), p.Threshold...),
		bias:    append([]int32(nil), p.Bias...),
		dashMem: append([]int(nil), p.DashMem...),
		dashSyn: append([]int(nil), p.DashSyn...),
	}
}

func (p *population) reset() {
	clear(p.vmem)
	clear(p.isyn)
	clear(p.spikes)
}

// Simulator is a bit-exact software model of the accelerator's fixed-point
// LIF core.
type Simulator struct {
	mu sync.Mutex

	loaded    bool
	config    model.Configuration
	hidden    *population
	output    *population
	prev      []int
	timestep  int
	stateLo   int64
	stateHi   int64
	maxSpikes int
}

var _ Backend = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Load(ctx context.Context, config model.Configuration) error {
	timing := config.Timing
	if timing.StateBits < 2 || timing.StateBits > 32 {
		return fmt.Errorf("state bits %d outside [2,32]", timing.StateBits)
	}
	if timing.MaxSpikesPerStep < 1 {
		return fmt.Errorf("max spikes per step must be positive: %d", timing.MaxSpikesPerStep)
	}
	q := config.Spec
	nin, nhid, nout := q.Inputs(), q.Neurons(), q.Outputs()
	if len(q.WeightsIn.Data) != nin*nhid ||
		q.WeightsRec.Rows != nhid || q.WeightsRec.Cols != nhid || len(q.WeightsRec.Data) != nhid*nhid ||
		q.WeightsOut.Rows != nhid || len(q.WeightsOut.Data) != nhid*nout {
		return fmt.Errorf("configuration %s has inconsistent weight shapes", config.ID)
	}
	if q.Hidden.Len() != nhid || q.Output.Len() != nout {
		return fmt.Errorf("configuration %s has inconsistent neuron parameters", config.ID)
	}
	for _, p := range []model.QuantizedParams{q.Hidden, q.Output} {
		if len(p.Bias) != p.Len() || len(p.DashMem) != p.Len() || len(p.DashSyn) != p.Len() {
			return fmt.Errorf("configuration %s has inconsistent neuron parameters", config.ID)
		}
		for i := range p.DashMem {
			if p.DashMem[i] < 0 || p.DashSyn[i] < 0 {
				return fmt.Errorf("configuration %s has negative decay shift", config.ID)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = config.Clone()
	s.hidden = newPopulation(s.config.Spec.Hidden)
	s.output = newPopulation(s.config.Spec.Output)
	s.prev = make([]int, q.Neurons())
	s.timestep = 0
	s.stateHi = int64(1)<<(timing.StateBits-1) - 1
	s.stateLo = -int64(1) << (timing.StateBits - 1)
	s.maxSpikes = timing.MaxSpikesPerStep
	s.loaded = true
	klog.FromContext(ctx).V(2).Info("simulator loaded", "id", config.ID, "stateBits", timing.StateBits)
	return nil
}

func (s *Simulator) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil
	}
	s.hidden.reset()
	s.output.reset()
	clear(s.prev)
	s.timestep = 0
	return nil
}

// Timestep returns the absolute index of the next timestep to evolve.
func (s *Simulator) Timestep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestep
}

// Step evolves the whole input once started; cancellation is only honored
// between calls.
func (s *Simulator) Step(_ context.Context, input []model.EventFrame, opts StepOptions) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return StepResult{}, fmt.Errorf("%w: simulator has no configuration", ErrRuntimeUnavailable)
	}
	q := s.config.Spec
	steps := Evolution(input, opts)
	raster := make([][]int, steps)
	for _, frame := range input {
		if frame.Timestep < 0 {
			return StepResult{}, fmt.Errorf("input frame has negative timestep %d", frame.Timestep)
		}
		if raster[frame.Timestep] == nil {
			raster[frame.Timestep] = make([]int, q.Inputs())
		}
		for _, ev := range frame.Events {
			if ev.Channel < 0 || ev.Channel >= q.Inputs() {
				return StepResult{}, fmt.Errorf("input channel %d outside [0,%d)", ev.Channel, q.Inputs())
			}
			if ev.Count < 0 {
				return StepResult{}, fmt.Errorf("negative spike count %d on channel %d", ev.Count, ev.Channel)
			}
			raster[frame.Timestep][ev.Channel] += ev.Count
		}
	}

	result := StepResult{Frames: make([]model.EventFrame, 0, steps)}
	if opts.RecordInternalState {
		result.Trace = &Trace{}
	}
	var synOps, hiddenSpikes, outputSpikes int
	for t := 0; t < steps; t++ {
		synOps += s.integrate(s.hidden, raster[t], q.WeightsIn, s.prev, q.WeightsRec)
		hiddenSpikes += s.fire(s.hidden)
		synOps += s.integrate(s.output, s.hidden.spikes, q.WeightsOut, nil, model.IntMatrix{})
		outputSpikes += s.fire(s.output)
		copy(s.prev, s.hidden.spikes)

		result.Frames = append(result.Frames, model.FrameFromCounts(s.timestep, s.output.spikes))
		if result.Trace != nil {
			tr := result.Trace
			tr.HiddenVmem = append(tr.HiddenVmem, append([]int32(nil), s.hidden.vmem...))
			tr.HiddenIsyn = append(tr.HiddenIsyn, append([]int32(nil), s.hidden.isyn...))
			tr.HiddenSpikes = append(tr.HiddenSpikes, append([]int(nil), s.hidden.spikes...))
			tr.OutputVmem = append(tr.OutputVmem, append([]int32(nil), s.output.vmem...))
			tr.OutputIsyn = append(tr.OutputIsyn, append([]int32(nil), s.output.isyn...))
		}
		s.timestep++
	}
	if opts.RecordPower {
		result.Telemetry = map[string]float64{
			TelemetrySynapticOps:  float64(synOps),
			TelemetryHiddenSpikes: float64(hiddenSpikes),
			TelemetryOutputSpikes: float64(outputSpikes),
			TelemetryEnergyJoules: float64(synOps)*EnergyPerSynapticOp + float64(hiddenSpikes+outputSpikes)*EnergyPerSpike,
		}
	}
	return result, nil
}

// integrate decays the synaptic current and adds weighted input counts, then
// decays the membrane and adds the current and bias. It returns the number of
// synaptic operations performed.
func (s *Simulator) integrate(p *population, in []int, w model.IntMatrix, rec []int, wrec model.IntMatrix) int {
	ops := 0
	for j := range p.isyn {
		acc := int64(p.isyn[j]) - int64(p.isyn[j]>>p.dashSyn[j])
		for i, n := range in {
			if n == 0 {
				continue
			}
			acc += int64(n) * int64(w.At(i, j))
			ops += n
		}
		for k, n := range rec {
			if n == 0 {
				continue
			}
			acc += int64(n) * int64(wrec.At(k, j))
			ops += n
		}
		p.isyn[j] = s.saturate(acc)

		v := int64(p.vmem[j]) - int64(p.vmem[j]>>p.dashMem[j])
		v += int64(p.isyn[j]) + int64(p.bias[j])
		p.vmem[j] = s.saturate(v)
	}
	return ops
}

// fire emits up to maxSpikes per neuron and subtracts the threshold for each.
func (s *Simulator) fire(p *population) int {
	total := 0
	for j, v := range p.vmem {
		p.spikes[j] = 0
		thr := p.thr[j]
		if thr <= 0 || v < thr {
			continue
		}
		n := int(v / thr)
		if n > s.maxSpikes {
			n = s.maxSpikes
		}
		p.vmem[j] = s.saturate(int64(v) - int64(n)*int64(thr))
		p.spikes[j] = n
		total += n
	}
	return total
}

func (s *Simulator) saturate(v int64) int32 {
	if v > s.stateHi {
		return int32(s.stateHi)
	}
	if v < s.stateLo {
		return int32(s.stateLo)
	}
	return int32(v)
}
