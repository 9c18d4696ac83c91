package quant

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"spikedeploy/internal/model"
)

func uniformParams(n int, threshold float64) model.NeuronParams {
	p := model.NeuronParams{
		TauMem:    make([]float64, n),
		TauSyn:    make([]float64, n),
		Bias:      make([]float64, n),
		Threshold: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		p.TauMem[i] = 0.016
		p.TauSyn[i] = 0.008
		p.Threshold[i] = threshold
	}
	return p
}

func randomMatrix(rng *rand.Rand, rows, cols int, scale float64) model.Matrix {
	m := model.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = (rng.Float64()*2 - 1) * scale
	}
	return m
}

func randomSpec(seed int64, nin, nhid, nout int) model.HardwareSpec {
	rng := rand.New(rand.NewSource(seed))
	spec := model.HardwareSpec{
		WeightsIn:  randomMatrix(rng, nin, nhid, 1),
		WeightsRec: randomMatrix(rng, nhid, nhid, 0.2),
		WeightsOut: randomMatrix(rng, nhid, nout, 3),
		Hidden:     uniformParams(nhid, 1),
		Output:     uniformParams(nout, 2),
		Dt:         time.Millisecond,
	}
	// Give hidden neuron 0 a much smaller dynamic range than the rest.
	for r := 0; r < nin; r++ {
		spec.WeightsIn.Set(r, 0, spec.WeightsIn.At(r, 0)*0.001)
	}
	for r := 0; r < nhid; r++ {
		spec.WeightsRec.Set(r, 0, spec.WeightsRec.At(r, 0)*0.001)
	}
	spec.Hidden.Threshold[0] = 0.001
	return spec
}

func assertWithinHalfScale(t *testing.T, name string, original, dequantized model.Matrix, scales []float64) {
	t.Helper()
	for r := 0; r < original.Rows; r++ {
		for c := 0; c < original.Cols; c++ {
			diff := math.Abs(original.At(r, c) - dequantized.At(r, c))
			if bound := scales[c]/2 + 1e-12; diff > bound {
				t.Fatalf("%s[%d,%d]: |%g - %g| = %g exceeds scale/2 = %g", name, r, c, original.At(r, c), dequantized.At(r, c), diff, bound)
			}
		}
	}
}

func TestQuantizeRoundTripWithinHalfScale(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		spec := randomSpec(seed, 16, 20, 8)
		q, err := Quantize(spec, DefaultOptions())
		if err != nil {
			t.Fatalf("seed %d: quantize: %v", seed, err)
		}
		in, rec, out := q.DequantizeWeights()
		assertWithinHalfScale(t, "weights_in", spec.WeightsIn, in, q.HiddenScale)
		assertWithinHalfScale(t, "weights_rec", spec.WeightsRec, rec, q.HiddenScale)
		assertWithinHalfScale(t, "weights_out", spec.WeightsOut, out, q.OutputScale)
	}
}

func TestQuantizeStaysWithinBitWidth(t *testing.T) {
	spec := randomSpec(7, 16, 20, 8)
	for _, bits := range []int{4, 6, 8} {
		q, err := Quantize(spec, Options{WeightBits: bits})
		if err != nil {
			t.Fatalf("bits=%d: quantize: %v", bits, err)
		}
		lo, hi := Range(bits)
		for _, m := range []model.IntMatrix{q.WeightsIn, q.WeightsRec, q.WeightsOut} {
			for _, v := range m.Data {
				if int64(v) < lo || int64(v) > hi {
					t.Fatalf("bits=%d: value %d outside [%d, %d]", bits, v, lo, hi)
				}
			}
		}
		// The largest magnitude in a channel maps to the edge of the range.
		peak := int32(0)
		for r := 0; r < q.WeightsOut.Rows; r++ {
			v := q.WeightsOut.At(r, 0)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		if int64(peak) != hi {
			t.Fatalf("bits=%d: output channel 0 peak %d, want %d", bits, peak, hi)
		}
	}
}

func TestQuantizeUsesPerChannelScale(t *testing.T) {
	spec := randomSpec(3, 16, 20, 8)
	q, err := Quantize(spec, DefaultOptions())
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if q.HiddenScale[0] >= q.HiddenScale[1] {
		t.Fatalf("small channel should get a finer scale: %g vs %g", q.HiddenScale[0], q.HiddenScale[1])
	}
	nonZero := 0
	for r := 0; r < q.WeightsIn.Rows; r++ {
		if q.WeightsIn.At(r, 0) != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Fatal("small-magnitude channel collapsed to zero")
	}
}

func TestQuantizeAllZeroChannel(t *testing.T) {
	spec := randomSpec(11, 4, 3, 2)
	for r := 0; r < spec.WeightsIn.Rows; r++ {
		spec.WeightsIn.Set(r, 2, 0)
	}
	for r := 0; r < spec.WeightsRec.Rows; r++ {
		spec.WeightsRec.Set(r, 2, 0)
	}
	for r := 0; r < spec.WeightsOut.Rows; r++ {
		spec.WeightsOut.Set(r, 1, 0)
	}
	spec.Hidden.Threshold[2] = 0.4

	q, err := Quantize(spec, DefaultOptions())
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if q.HiddenScale[2] != 1 || q.OutputScale[1] != 1 {
		t.Fatalf("all-zero channel scale: hidden=%g output=%g, want 1", q.HiddenScale[2], q.OutputScale[1])
	}
	for r := 0; r < q.WeightsIn.Rows; r++ {
		if q.WeightsIn.At(r, 2) != 0 {
			t.Fatalf("expected zero input weight at [%d,2], got %d", r, q.WeightsIn.At(r, 2))
		}
	}
	for r := 0; r < q.WeightsOut.Rows; r++ {
		if q.WeightsOut.At(r, 1) != 0 {
			t.Fatalf("expected zero output weight at [%d,1], got %d", r, q.WeightsOut.At(r, 1))
		}
	}
	if got := q.Hidden.Threshold[2]; got != 1 {
		t.Fatalf("sub-unit threshold on unconnected neuron: got=%d want=1", got)
	}
}

func TestQuantizeTieBreaking(t *testing.T) {
	spec := model.HardwareSpec{
		WeightsIn:  model.Matrix{Rows: 2, Cols: 1, Data: []float64{3, 2.5}},
		WeightsRec: model.NewMatrix(1, 1),
		WeightsOut: model.Matrix{Rows: 1, Cols: 1, Data: []float64{1}},
		Hidden:     uniformParams(1, 1),
		Output:     uniformParams(1, 1),
		Dt:         time.Millisecond,
	}

	even, err := Quantize(spec, Options{WeightBits: 3, Rounding: RoundHalfEven})
	if err != nil {
		t.Fatalf("quantize half-even: %v", err)
	}
	if got := even.WeightsIn.At(1, 0); got != 2 {
		t.Fatalf("half-even: got=%d want=2", got)
	}

	away, err := Quantize(spec, Options{WeightBits: 3, Rounding: RoundHalfAway})
	if err != nil {
		t.Fatalf("quantize half-away: %v", err)
	}
	if got := away.WeightsIn.At(1, 0); got != 3 {
		t.Fatalf("half-away: got=%d want=3", got)
	}
}

func TestQuantizeWidensScaleForThreshold(t *testing.T) {
	spec := randomSpec(5, 4, 3, 2)
	for i := range spec.WeightsOut.Data {
		spec.WeightsOut.Data[i] *= 1e-6
	}
	q, err := Quantize(spec, DefaultOptions())
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	hi := MaxMagnitude(q.ThresholdBits)
	for j, thr := range spec.Output.Threshold {
		if got := q.Output.Threshold[j]; got <= 0 || int64(got) > hi {
			t.Fatalf("output threshold[%d]: got=%d want in [1, %d]", j, got, hi)
		}
		if diff := math.Abs(thr - float64(q.Output.Threshold[j])*q.OutputScale[j]); diff > q.OutputScale[j]/2+1e-12 {
			t.Fatalf("output threshold[%d]: round trip error %g exceeds scale/2 = %g", j, diff, q.OutputScale[j]/2)
		}
	}
	_, _, out := q.DequantizeWeights()
	assertWithinHalfScale(t, "weights_out", spec.WeightsOut, out, q.OutputScale)
}

func TestQuantizeThresholdOverflow(t *testing.T) {
	spec := randomSpec(5, 4, 3, 2)
	for r := 0; r < spec.WeightsOut.Rows; r++ {
		spec.WeightsOut.Set(r, 1, 0)
	}
	// An unconnected neuron keeps scale 1, so its threshold must fit as is.
	spec.Output.Threshold[1] = 1e6
	_, err := Quantize(spec, DefaultOptions())
	if !errors.Is(err, ErrQuantizationOverflow) {
		t.Fatalf("expected ErrQuantizationOverflow, got %v", err)
	}
}

func TestQuantizeRejectsNonFinite(t *testing.T) {
	spec := randomSpec(5, 4, 3, 2)
	spec.WeightsIn.Set(0, 0, math.NaN())
	if _, err := Quantize(spec, DefaultOptions()); !errors.Is(err, ErrQuantizationOverflow) {
		t.Fatalf("expected ErrQuantizationOverflow, got %v", err)
	}
}

func TestQuantizeRejectsBadOptions(t *testing.T) {
	spec := randomSpec(5, 4, 3, 2)
	if _, err := Quantize(spec, Options{WeightBits: 1}); err == nil {
		t.Fatal("expected error for 1-bit weights")
	}
	if _, err := Quantize(spec, Options{Rounding: "stochastic"}); err == nil {
		t.Fatal("expected error for unknown rounding mode")
	}
}

func TestDash(t *testing.T) {
	cases := []struct {
		tau  float64
		dt   time.Duration
		want int
	}{
		{0.016, time.Millisecond, 4},
		{0.008, time.Millisecond, 3},
		{0.001, time.Millisecond, 0},
		{0.020, time.Millisecond, 4},
		{0.024, time.Millisecond, 5},
	}
	for _, tc := range cases {
		if got := Dash(tc.tau, tc.dt); got != tc.want {
			t.Fatalf("Dash(%g, %v): got=%d want=%d", tc.tau, tc.dt, got, tc.want)
		}
	}
	if Dash(0, time.Millisecond) >= 0 {
		t.Fatal("non-positive tau should produce a negative dash")
	}
	if tau := EffectiveTau(4, time.Millisecond); math.Abs(tau-0.016) > 1e-12 {
		t.Fatalf("effective tau: got=%g want=0.016", tau)
	}
}
