package storage

import (
	"time"

	"spikedeploy/internal/model"
)

func sampleConfiguration(id string) model.Configuration {
	return model.Configuration{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		Name:            "kws",
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Spec: model.QuantizedSpec{
			WeightsIn:   model.IntMatrix{Rows: 2, Cols: 1, Data: []int32{127, -64}},
			WeightsRec:  model.IntMatrix{Rows: 1, Cols: 1, Data: []int32{0}},
			WeightsOut:  model.IntMatrix{Rows: 1, Cols: 1, Data: []int32{-127}},
			HiddenScale: []float64{0.0078740157480315},
			OutputScale: []float64{1},
			Hidden:      model.QuantizedParams{Threshold: []int32{127}, Bias: []int32{0}, DashMem: []int{4}, DashSyn: []int{3}},
			Output:      model.QuantizedParams{Threshold: []int32{1}, Bias: []int32{0}, DashMem: []int{4}, DashSyn: []int{3}},
			WeightBits:  8,
			Dt:          time.Millisecond,
		},
		Routing:           model.Routing{InputChannels: 2, HiddenNeurons: 1, OutputChannels: 1},
		Timing:            model.Timing{Dt: time.Millisecond, MaxSpikesPerStep: 31, StateBits: 16},
		WeightMemoryBytes: 4,
		Valid:             true,
	}
}

func sampleRecording(id string) model.Recording {
	return model.Recording{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		ConfigurationID: "cfg-1",
		Cadence:         10 * time.Millisecond,
		Cursor:          30 * time.Millisecond,
		Polls:           4,
		Appends:         3,
		Misses:          1,
		Channels:        [][]float64{{0, 1, 2}, {3, 0, 0}},
		Telemetry:       map[string]float64{"synaptic_ops": 12},
	}
}
