package quant

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"spikedeploy/internal/model"
)

var ErrQuantizationOverflow = errors.New("quantization overflow")

// RoundingMode selects how values halfway between two integers are rounded.
type RoundingMode string

const (
	RoundHalfEven RoundingMode = "half_even"
	RoundHalfAway RoundingMode = "half_away"
)

type Options struct {
	WeightBits    int
	ThresholdBits int
	Rounding      RoundingMode
}

func DefaultOptions() Options {
	return Options{WeightBits: 8, ThresholdBits: 16, Rounding: RoundHalfEven}
}

func (o Options) normalize() (Options, error) {
	def := DefaultOptions()
	if o.WeightBits == 0 {
		o.WeightBits = def.WeightBits
	}
	if o.ThresholdBits == 0 {
		o.ThresholdBits = def.ThresholdBits
	}
	if o.Rounding == "" {
		o.Rounding = def.Rounding
	}
	if o.WeightBits < 2 || o.WeightBits > 32 {
		return o, fmt.Errorf("weight bits must be in [2, 32], got %d", o.WeightBits)
	}
	if o.ThresholdBits < 2 || o.ThresholdBits > 32 {
		return o, fmt.Errorf("threshold bits must be in [2, 32], got %d", o.ThresholdBits)
	}
	switch o.Rounding {
	case RoundHalfEven, RoundHalfAway:
	default:
		return o, fmt.Errorf("unsupported rounding mode %q", o.Rounding)
	}
	return o, nil
}

// MaxMagnitude is the largest positive value representable in bits signed
// bits, 2^(bits-1)-1.
func MaxMagnitude(bits int) int64 {
	return int64(1)<<(bits-1) - 1
}

// Range returns the inclusive signed range of a bits-wide integer.
func Range(bits int) (lo, hi int64) {
	return -(int64(1) << (bits - 1)), MaxMagnitude(bits)
}

// ChannelScale returns max|v| / (2^(bits-1)-1), or 1 when every value is zero.
func ChannelScale(values []float64, bits int) float64 {
	maxAbs := 0.0
	for _, v := range values {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return 1
	}
	return maxAbs / float64(MaxMagnitude(bits))
}

func (o Options) round(x float64) float64 {
	if o.Rounding == RoundHalfAway {
		return math.Round(x)
	}
	return math.RoundToEven(x)
}

// quantize rounds v/scale and reports an overflow instead of clipping.
func (o Options) quantize(v, scale float64, bits int, what string) (int32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrQuantizationOverflow, what)
	}
	q := o.round(v / scale)
	lo, hi := Range(bits)
	if q < float64(lo) || q > float64(hi) {
		return 0, fmt.Errorf("%w: %s = %g quantizes to %.0f, outside [%d, %d] at %d bits", ErrQuantizationOverflow, what, v, q, lo, hi, bits)
	}
	return int32(q), nil
}

// neuronScale is the channel scale of a neuron's weights, widened when its
// threshold or bias would not fit ThresholdBits at that scale. A neuron with
// no nonzero weight keeps scale 1.
func (o Options) neuronScale(weights []float64, threshold, bias float64) float64 {
	scale := ChannelScale(weights, o.WeightBits)
	if !slices.ContainsFunc(weights, func(v float64) bool { return v != 0 }) {
		return scale
	}
	limit := float64(MaxMagnitude(o.ThresholdBits))
	return max(scale, math.Abs(threshold)/limit, math.Abs(bias)/limit)
}

// Quantize converts spec to fixed point with one scale per target neuron.
// A hidden neuron's scale covers its input and recurrent weight columns so
// both currents share a unit; thresholds and biases reuse that scale at
// ThresholdBits. Output neurons are scaled by their output weight column.
// A positive threshold never quantizes below 1.
func Quantize(spec model.HardwareSpec, opts Options) (model.QuantizedSpec, error) {
	opts, err := opts.normalize()
	if err != nil {
		return model.QuantizedSpec{}, err
	}
	if err := spec.Validate(); err != nil {
		return model.QuantizedSpec{}, fmt.Errorf("%w: %v", ErrQuantizationOverflow, err)
	}

	nhid, nout := spec.Neurons(), spec.Outputs()
	q := model.QuantizedSpec{
		WeightsIn:     model.NewIntMatrix(spec.WeightsIn.Rows, nhid),
		WeightsRec:    model.NewIntMatrix(nhid, nhid),
		WeightsOut:    model.NewIntMatrix(nhid, nout),
		HiddenScale:   make([]float64, nhid),
		OutputScale:   make([]float64, nout),
		WeightBits:    opts.WeightBits,
		ThresholdBits: opts.ThresholdBits,
		Dt:            spec.Dt,
	}

	for j := 0; j < nhid; j++ {
		channel := append(spec.WeightsIn.Column(j), spec.WeightsRec.Column(j)...)
		q.HiddenScale[j] = opts.neuronScale(channel, spec.Hidden.Threshold[j], spec.Hidden.Bias[j])
	}
	for j := 0; j < nout; j++ {
		q.OutputScale[j] = opts.neuronScale(spec.WeightsOut.Column(j), spec.Output.Threshold[j], spec.Output.Bias[j])
	}

	if err := opts.quantizeMatrix(spec.WeightsIn, q.WeightsIn, q.HiddenScale, "weights_in"); err != nil {
		return model.QuantizedSpec{}, err
	}
	if err := opts.quantizeMatrix(spec.WeightsRec, q.WeightsRec, q.HiddenScale, "weights_rec"); err != nil {
		return model.QuantizedSpec{}, err
	}
	if err := opts.quantizeMatrix(spec.WeightsOut, q.WeightsOut, q.OutputScale, "weights_out"); err != nil {
		return model.QuantizedSpec{}, err
	}

	if q.Hidden, err = opts.quantizeParams(spec.Hidden, q.HiddenScale, spec.Dt, "hidden"); err != nil {
		return model.QuantizedSpec{}, err
	}
	if q.Output, err = opts.quantizeParams(spec.Output, q.OutputScale, spec.Dt, "output"); err != nil {
		return model.QuantizedSpec{}, err
	}
	return q, nil
}

func (o Options) quantizeMatrix(src model.Matrix, dst model.IntMatrix, scales []float64, name string) error {
	for r := 0; r < src.Rows; r++ {
		for c := 0; c < src.Cols; c++ {
			v, err := o.quantize(src.At(r, c), scales[c], o.WeightBits, fmt.Sprintf("%s[%d,%d]", name, r, c))
			if err != nil {
				return err
			}
			dst.Set(r, c, v)
		}
	}
	return nil
}

func (o Options) quantizeParams(p model.NeuronParams, scales []float64, dt time.Duration, name string) (model.QuantizedParams, error) {
	n := p.Len()
	out := model.QuantizedParams{
		Threshold: make([]int32, n),
		Bias:      make([]int32, n),
		DashMem:   make([]int, n),
		DashSyn:   make([]int, n),
	}
	var err error
	for i := 0; i < n; i++ {
		if out.Threshold[i], err = o.quantize(p.Threshold[i], scales[i], o.ThresholdBits, fmt.Sprintf("%s threshold[%d]", name, i)); err != nil {
			return model.QuantizedParams{}, err
		}
		if p.Threshold[i] > 0 && out.Threshold[i] == 0 {
			out.Threshold[i] = 1
		}
		if out.Bias[i], err = o.quantize(p.Bias[i], scales[i], o.ThresholdBits, fmt.Sprintf("%s bias[%d]", name, i)); err != nil {
			return model.QuantizedParams{}, err
		}
		out.DashMem[i] = Dash(p.TauMem[i], dt)
		out.DashSyn[i] = Dash(p.TauSyn[i], dt)
	}
	return out, nil
}

// Dash converts a time constant to the bit-shift exponent of the decay
// x -= x >> dash, round(log2(tau/dt)). The result is not clamped.
func Dash(tau float64, dt time.Duration) int {
	if tau <= 0 || dt <= 0 {
		return -1
	}
	return int(math.RoundToEven(math.Log2(tau / dt.Seconds())))
}

// EffectiveTau is the time constant implied by a decay exponent.
func EffectiveTau(dash int, dt time.Duration) float64 {
	return math.Exp2(float64(dash)) * dt.Seconds()
}
