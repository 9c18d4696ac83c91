package hwmap

import "time"

// Limits describes the fixed resources of the target accelerator.
type Limits struct {
	MaxInputs        int `json:"max_inputs"`
	MaxHidden        int `json:"max_hidden"`
	MaxOutputs       int `json:"max_outputs"`
	WeightBits       int `json:"weight_bits"`
	ThresholdBits    int `json:"threshold_bits"`
	StateBits        int `json:"state_bits"`
	MaxDash          int `json:"max_dash"`
	MaxSpikesPerStep int `json:"max_spikes_per_step"`
	SRAMBytes        int `json:"sram_bytes"`
}

const DefaultDt = time.Millisecond

// DefaultLimits matches a 16-input, 1000-neuron, 8-output audio core with
// 8-bit weights, 16-bit neuron state and 256 KiB of weight memory.
func DefaultLimits() Limits {
	return Limits{
		MaxInputs:        16,
		MaxHidden:        1000,
		MaxOutputs:       8,
		WeightBits:       8,
		ThresholdBits:    16,
		StateBits:        16,
		MaxDash:          15,
		MaxSpikesPerStep: 31,
		SRAMBytes:        256 << 10,
	}
}

// Normalize fills unset fields from DefaultLimits.
func (l Limits) Normalize() Limits {
	def := DefaultLimits()
	if l.MaxInputs <= 0 {
		l.MaxInputs = def.MaxInputs
	}
	if l.MaxHidden <= 0 {
		l.MaxHidden = def.MaxHidden
	}
	if l.MaxOutputs <= 0 {
		l.MaxOutputs = def.MaxOutputs
	}
	if l.WeightBits <= 1 {
		l.WeightBits = def.WeightBits
	}
	if l.ThresholdBits <= 1 {
		l.ThresholdBits = def.ThresholdBits
	}
	if l.StateBits <= 1 {
		l.StateBits = def.StateBits
	}
	if l.MaxDash <= 0 {
		l.MaxDash = def.MaxDash
	}
	if l.MaxSpikesPerStep <= 0 {
		l.MaxSpikesPerStep = def.MaxSpikesPerStep
	}
	if l.SRAMBytes <= 0 {
		l.SRAMBytes = def.SRAMBytes
	}
	return l
}
