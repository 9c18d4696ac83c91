package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"spikedeploy/internal/quant"
	"spikedeploy/pkg/spikedeploy"
)

// loadTargetFromConfig reads a target description. Missing fields keep their
// defaults; limits may be given flat or under a "limits" object.
func loadTargetFromConfig(path string) (spikedeploy.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spikedeploy.Target{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return spikedeploy.Target{}, fmt.Errorf("decode target %s: %w", path, err)
	}

	target := spikedeploy.DefaultTarget()
	limitsRaw := raw
	if nested, ok := raw["limits"].(map[string]any); ok {
		limitsRaw = nested
	}
	l := &target.Limits
	for key, dst := range map[string]*int{
		"max_inputs":          &l.MaxInputs,
		"max_hidden":          &l.MaxHidden,
		"max_outputs":         &l.MaxOutputs,
		"weight_bits":         &l.WeightBits,
		"threshold_bits":      &l.ThresholdBits,
		"state_bits":          &l.StateBits,
		"max_dash":            &l.MaxDash,
		"max_spikes_per_step": &l.MaxSpikesPerStep,
		"sram_bytes":          &l.SRAMBytes,
	} {
		if v, ok := asInt(limitsRaw[key]); ok {
			*dst = v
		}
	}
	target.Quant.WeightBits = l.WeightBits
	target.Quant.ThresholdBits = l.ThresholdBits

	if v, ok := asString(raw["rounding"]); ok {
		target.Quant.Rounding = quant.RoundingMode(v)
	}
	if v, ok := asFloat64(raw["dt_ms"]); ok {
		dt, err := durationFromMillis(v)
		if err != nil {
			return spikedeploy.Target{}, err
		}
		target.Dt = dt
	}
	return target, nil
}

func overrideTargetFromFlags(target *spikedeploy.Target, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "weight-bits":
			bits := v.(int)
			if bits < 2 || bits > 32 {
				return fmt.Errorf("weight bits must be in [2, 32], got %d", bits)
			}
			target.Limits.WeightBits = bits
			target.Quant.WeightBits = bits
		case "rounding":
			target.Quant.Rounding = quant.RoundingMode(v.(string))
		case "dt-ms":
			dt, err := durationFromMillis(v.(float64))
			if err != nil {
				return err
			}
			target.Dt = dt
		}
	}
	return nil
}

func durationFromMillis(ms float64) (time.Duration, error) {
	if math.IsNaN(ms) || ms <= 0 {
		return 0, fmt.Errorf("dt must be > 0 ms, got %v", ms)
	}
	return time.Duration(math.Round(ms * float64(time.Millisecond))), nil
}

// loadRaster reads a [timestep][channel] spike count raster.
func loadRaster(path string) ([][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode raster %s: %w", path, err)
	}
	raster := make([][]int, 0, len(raw))
	for t, row := range raw {
		values, ok := row.([]any)
		if !ok {
			return nil, fmt.Errorf("raster row %d is not a list", t)
		}
		counts := make([]int, len(values))
		for ch, v := range values {
			n, ok := asInt(v)
			if !ok || n < 0 {
				return nil, fmt.Errorf("raster[%d][%d] is not a non-negative count", t, ch)
			}
			counts[ch] = n
		}
		raster = append(raster, counts)
	}
	if len(raster) == 0 {
		return nil, fmt.Errorf("raster %s is empty", path)
	}
	return raster, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
