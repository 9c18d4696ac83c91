package model

import (
	"fmt"
	"math"
	"time"
)

// Matrix is a dense row-major float matrix. Rows index the source channel and
// columns the target channel.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

func (m Matrix) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// Column returns a copy of column c.
func (m Matrix) Column(c int) []float64 {
	out := make([]float64, m.Rows)
	for r := 0; r < m.Rows; r++ {
		out[r] = m.Data[r*m.Cols+c]
	}
	return out
}

func (m Matrix) Clone() Matrix {
	return Matrix{Rows: m.Rows, Cols: m.Cols, Data: append([]float64(nil), m.Data...)}
}

func (m Matrix) finite() error {
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("matrix %dx%d holds %d values", m.Rows, m.Cols, len(m.Data))
	}
	for i, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value %d is not finite", i)
		}
	}
	return nil
}

// IntMatrix is the integer counterpart of Matrix.
type IntMatrix struct {
	Rows int     `json:"rows"`
	Cols int     `json:"cols"`
	Data []int32 `json:"data"`
}

func NewIntMatrix(rows, cols int) IntMatrix {
	return IntMatrix{Rows: rows, Cols: cols, Data: make([]int32, rows*cols)}
}

func (m IntMatrix) At(r, c int) int32 {
	return m.Data[r*m.Cols+c]
}

func (m IntMatrix) Set(r, c int, v int32) {
	m.Data[r*m.Cols+c] = v
}

func (m IntMatrix) Clone() IntMatrix {
	return IntMatrix{Rows: m.Rows, Cols: m.Cols, Data: append([]int32(nil), m.Data...)}
}

// Dequantize scales each column by its channel scale.
func (m IntMatrix) Dequantize(scales []float64) Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			out.Set(r, c, float64(m.At(r, c))*scales[c])
		}
	}
	return out
}

// NeuronParams holds per-neuron floating point LIF parameters for one
// population. Time constants are in seconds.
type NeuronParams struct {
	TauMem    []float64 `json:"tau_mem"`
	TauSyn    []float64 `json:"tau_syn"`
	Bias      []float64 `json:"bias"`
	Threshold []float64 `json:"threshold"`
}

func (p NeuronParams) Len() int {
	return len(p.Threshold)
}

func (p NeuronParams) Clone() NeuronParams {
	return NeuronParams{
		TauMem:    append([]float64(nil), p.TauMem...),
		TauSyn:    append([]float64(nil), p.TauSyn...),
		Bias:      append([]float64(nil), p.Bias...),
		Threshold: append([]float64(nil), p.Threshold...),
	}
}

func (p NeuronParams) validate(n int) error {
	for name, values := range map[string][]float64{
		"tau_mem":   p.TauMem,
		"tau_syn":   p.TauSyn,
		"bias":      p.Bias,
		"threshold": p.Threshold,
	} {
		if len(values) != n {
			return fmt.Errorf("%s has %d values, want %d", name, len(values), n)
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s[%d] is not finite", name, i)
			}
		}
	}
	return nil
}

// HardwareSpec is the floating point network expressed in the accelerator's
// fixed three-stage topology.
type HardwareSpec struct {
	WeightsIn  Matrix        `json:"weights_in"`
	WeightsRec Matrix        `json:"weights_rec"`
	WeightsOut Matrix        `json:"weights_out"`
	Hidden     NeuronParams  `json:"hidden"`
	Output     NeuronParams  `json:"output"`
	Dt         time.Duration `json:"dt"`
}

func (s HardwareSpec) Inputs() int  { return s.WeightsIn.Rows }
func (s HardwareSpec) Neurons() int { return s.WeightsIn.Cols }
func (s HardwareSpec) Outputs() int { return s.WeightsOut.Cols }

// Validate checks internal dimension consistency and finiteness.
func (s HardwareSpec) Validate() error {
	nin, nhid, nout := s.WeightsIn.Rows, s.WeightsIn.Cols, s.WeightsOut.Cols
	if nin <= 0 || nhid <= 0 || nout <= 0 {
		return fmt.Errorf("hardware spec dimensions must be > 0: in=%d hidden=%d out=%d", nin, nhid, nout)
	}
	if s.WeightsRec.Rows != nhid || s.WeightsRec.Cols != nhid {
		return fmt.Errorf("recurrent weights %dx%d, want %dx%d", s.WeightsRec.Rows, s.WeightsRec.Cols, nhid, nhid)
	}
	if s.WeightsOut.Rows != nhid {
		return fmt.Errorf("output weights have %d rows, want %d", s.WeightsOut.Rows, nhid)
	}
	for name, m := range map[string]Matrix{"weights_in": s.WeightsIn, "weights_rec": s.WeightsRec, "weights_out": s.WeightsOut} {
		if err := m.finite(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := s.Hidden.validate(nhid); err != nil {
		return fmt.Errorf("hidden params: %w", err)
	}
	if err := s.Output.validate(nout); err != nil {
		return fmt.Errorf("output params: %w", err)
	}
	if s.Dt <= 0 {
		return fmt.Errorf("dt must be > 0")
	}
	return nil
}

func (s HardwareSpec) Clone() HardwareSpec {
	return HardwareSpec{
		WeightsIn:  s.WeightsIn.Clone(),
		WeightsRec: s.WeightsRec.Clone(),
		WeightsOut: s.WeightsOut.Clone(),
		Hidden:     s.Hidden.Clone(),
		Output:     s.Output.Clone(),
		Dt:         s.Dt,
	}
}

// QuantizedParams are the integer neuron parameters of one population.
// DashMem and DashSyn are bit-shift decay exponents, log2(tau/dt).
type QuantizedParams struct {
	Threshold []int32 `json:"threshold"`
	Bias      []int32 `json:"bias"`
	DashMem   []int   `json:"dash_mem"`
	DashSyn   []int   `json:"dash_syn"`
}

func (p QuantizedParams) Len() int {
	return len(p.Threshold)
}

func (p QuantizedParams) Clone() QuantizedParams {
	return QuantizedParams{
		Threshold: append([]int32(nil), p.Threshold...),
		Bias:      append([]int32(nil), p.Bias...),
		DashMem:   append([]int(nil), p.DashMem...),
		DashSyn:   append([]int(nil), p.DashSyn...),
	}
}

// QuantizedSpec is a HardwareSpec converted to fixed-point. HiddenScale[j]
// dequantizes column j of WeightsIn and WeightsRec together with the threshold
// and bias of hidden neuron j; OutputScale does the same for the output layer.
type QuantizedSpec struct {
	WeightsIn     IntMatrix       `json:"weights_in"`
	WeightsRec    IntMatrix       `json:"weights_rec"`
	WeightsOut    IntMatrix       `json:"weights_out"`
	HiddenScale   []float64       `json:"hidden_scale"`
	OutputScale   []float64       `json:"output_scale"`
	Hidden        QuantizedParams `json:"hidden"`
	Output        QuantizedParams `json:"output"`
	WeightBits    int             `json:"weight_bits"`
	ThresholdBits int             `json:"threshold_bits"`
	Dt            time.Duration   `json:"dt"`
}

func (q QuantizedSpec) Inputs() int  { return q.WeightsIn.Rows }
func (q QuantizedSpec) Neurons() int { return q.WeightsIn.Cols }
func (q QuantizedSpec) Outputs() int { return q.WeightsOut.Cols }

func (q QuantizedSpec) Clone() QuantizedSpec {
	return QuantizedSpec{
		WeightsIn:     q.WeightsIn.Clone(),
		WeightsRec:    q.WeightsRec.Clone(),
		WeightsOut:    q.WeightsOut.Clone(),
		HiddenScale:   append([]float64(nil), q.HiddenScale...),
		OutputScale:   append([]float64(nil), q.OutputScale...),
		Hidden:        q.Hidden.Clone(),
		Output:        q.Output.Clone(),
		WeightBits:    q.WeightBits,
		ThresholdBits: q.ThresholdBits,
		Dt:            q.Dt,
	}
}

// DequantizeWeights returns the float weight matrices implied by the integer
// weights and channel scales.
func (q QuantizedSpec) DequantizeWeights() (in, rec, out Matrix) {
	return q.WeightsIn.Dequantize(q.HiddenScale),
		q.WeightsRec.Dequantize(q.HiddenScale),
		q.WeightsOut.Dequantize(q.OutputScale)
}
