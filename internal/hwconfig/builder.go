package hwconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"spikedeploy/internal/hwmap"
	"spikedeploy/internal/model"
	"spikedeploy/internal/quant"
	"spikedeploy/internal/storage"
)

// ErrInvalidConfiguration wraps every failed validation check. It is not
// fatal: callers may adjust the mapping and build again.
var ErrInvalidConfiguration = errors.New("invalid configuration")

type BuildOptions struct {
	Name   string
	Limits hwmap.Limits
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Build validates q against the hardware limits and packages it as a
// device-ready configuration. On failure the returned configuration has
// Valid=false and the error joins every failed check.
func Build(q model.QuantizedSpec, opts BuildOptions) (model.Configuration, error) {
	limits := opts.Limits.Normalize()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	config := model.Configuration{
		VersionedRecord: storage.CurrentVersion(),
		ID:              newID(),
		Name:            opts.Name,
		CreatedAt:       now().UTC(),
		Spec:            q.Clone(),
		Routing: model.Routing{
			InputChannels:  q.Inputs(),
			HiddenNeurons:  q.Neurons(),
			OutputChannels: q.Outputs(),
		},
		Timing: model.Timing{
			Dt:               q.Dt,
			MaxSpikesPerStep: limits.MaxSpikesPerStep,
			StateBits:        limits.StateBits,
		},
		WeightMemoryBytes: WeightMemory(q),
	}

	if err := Validate(q, limits); err != nil {
		return config, err
	}
	config.Valid = true
	return config, nil
}

// Revalidate checks a configuration loaded from storage against limits.
func Revalidate(config model.Configuration, limits hwmap.Limits) error {
	limits = limits.Normalize()
	if err := Validate(config.Spec, limits); err != nil {
		return err
	}
	routing := model.Routing{InputChannels: config.Spec.Inputs(), HiddenNeurons: config.Spec.Neurons(), OutputChannels: config.Spec.Outputs()}
	if config.Routing != routing {
		return fmt.Errorf("%w: routing %+v does not match weights %+v", ErrInvalidConfiguration, config.Routing, routing)
	}
	if config.Timing.Dt != config.Spec.Dt {
		return fmt.Errorf("%w: timing dt %v does not match spec dt %v", ErrInvalidConfiguration, config.Timing.Dt, config.Spec.Dt)
	}
	if !config.Valid {
		return fmt.Errorf("%w: configuration %s is marked invalid", ErrInvalidConfiguration, config.ID)
	}
	return nil
}

// WeightMemory is the number of bytes of weight and neuron memory q occupies
// on the device: every weight at WeightBits, a threshold and a bias at
// ThresholdBits and two 4-bit decay exponents per neuron.
func WeightMemory(q model.QuantizedSpec) int {
	nin, nhid, nout := q.Inputs(), q.Neurons(), q.Outputs()
	weights := nin*nhid + nhid*nhid + nhid*nout
	bits := weights*q.WeightBits + (nhid+nout)*(2*q.ThresholdBits+8)
	return (bits + 7) / 8
}

// Validate runs every hardware check on q and joins the failures.
func Validate(q model.QuantizedSpec, limits hwmap.Limits) error {
	limits = limits.Normalize()
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...))
	}

	nin, nhid, nout := q.Inputs(), q.Neurons(), q.Outputs()
	if nin <= 0 || nhid <= 0 || nout <= 0 {
		fail("empty network: in=%d hidden=%d out=%d", nin, nhid, nout)
		return errors.Join(errs...)
	}
	if nin > limits.MaxInputs {
		fail("%d input channels exceed limit %d", nin, limits.MaxInputs)
	}
	if nhid > limits.MaxHidden {
		fail("%d hidden neurons exceed limit %d", nhid, limits.MaxHidden)
	}
	if nout > limits.MaxOutputs {
		fail("%d output channels exceed limit %d", nout, limits.MaxOutputs)
	}

	checkShape := func(name string, m model.IntMatrix, rows, cols int) bool {
		if m.Rows != rows || m.Cols != cols || len(m.Data) != rows*cols {
			fail("%s is %dx%d with %d values, want %dx%d", name, m.Rows, m.Cols, len(m.Data), rows, cols)
			return false
		}
		return true
	}
	shapesOK := checkShape("weights_in", q.WeightsIn, nin, nhid)
	shapesOK = checkShape("weights_rec", q.WeightsRec, nhid, nhid) && shapesOK
	shapesOK = checkShape("weights_out", q.WeightsOut, nhid, nout) && shapesOK
	if len(q.HiddenScale) != nhid || len(q.OutputScale) != nout {
		fail("scale vectors have %d/%d entries, want %d/%d", len(q.HiddenScale), len(q.OutputScale), nhid, nout)
	}
	for _, scale := range append(append([]float64(nil), q.HiddenScale...), q.OutputScale...) {
		if !(scale > 0) {
			fail("channel scale %g must be > 0", scale)
			break
		}
	}

	if q.WeightBits <= 0 || q.WeightBits > limits.WeightBits {
		fail("weights quantized to %d bits, hardware stores %d", q.WeightBits, limits.WeightBits)
	} else if shapesOK {
		lo, hi := quant.Range(limits.WeightBits)
		for name, m := range map[string]model.IntMatrix{"weights_in": q.WeightsIn, "weights_rec": q.WeightsRec, "weights_out": q.WeightsOut} {
			for i, v := range m.Data {
				if int64(v) < lo || int64(v) > hi {
					fail("%s value %d at %d outside [%d, %d]", name, v, i, lo, hi)
					break
				}
			}
		}
	}
	if q.ThresholdBits <= 0 || q.ThresholdBits > limits.ThresholdBits {
		fail("thresholds quantized to %d bits, hardware stores %d", q.ThresholdBits, limits.ThresholdBits)
	}
	// A threshold above the saturated membrane could never be crossed.
	if q.ThresholdBits > limits.StateBits {
		fail("thresholds quantized to %d bits exceed the %d-bit neuron state", q.ThresholdBits, limits.StateBits)
	}

	if q.Dt <= 0 {
		fail("timestep dt must be > 0, got %v", q.Dt)
	}
	validateParams(fail, "hidden", q.Hidden, nhid, limits)
	validateParams(fail, "output", q.Output, nout, limits)

	if used := WeightMemory(q); used > limits.SRAMBytes {
		fail("weight memory %s exceeds SRAM budget %s", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(limits.SRAMBytes)))
	}
	return errors.Join(errs...)
}

func validateParams(fail func(string, ...any), name string, p model.QuantizedParams, n int, limits hwmap.Limits) {
	if len(p.Threshold) != n || len(p.Bias) != n || len(p.DashMem) != n || len(p.DashSyn) != n {
		fail("%s parameters do not cover %d neurons", name, n)
		return
	}
	lo, hi := quant.Range(limits.ThresholdBits)
	for i := 0; i < n; i++ {
		if p.Threshold[i] <= 0 || int64(p.Threshold[i]) > hi {
			fail("%s threshold[%d] = %d must be in [1, %d]", name, i, p.Threshold[i], hi)
		}
		if int64(p.Bias[i]) < lo || int64(p.Bias[i]) > hi {
			fail("%s bias[%d] = %d outside [%d, %d]", name, i, p.Bias[i], lo, hi)
		}
		// A decay exponent is only meaningful relative to dt: tau must be at
		// least one timestep and no longer than the shifter can express.
		if p.DashMem[i] < 0 || p.DashMem[i] > limits.MaxDash {
			fail("%s tau_mem[%d] needs decay shift %d, hardware supports [0, %d] at this dt", name, i, p.DashMem[i], limits.MaxDash)
		}
		if p.DashSyn[i] < 0 || p.DashSyn[i] > limits.MaxDash {
			fail("%s tau_syn[%d] needs decay shift %d, hardware supports [0, %d] at this dt", name, i, p.DashSyn[i], limits.MaxDash)
		}
	}
}
