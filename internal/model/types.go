package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Routing records how device channels map to the deployed network.
type Routing struct {
	InputChannels  int `json:"input_channels"`
	HiddenNeurons  int `json:"hidden_neurons"`
	OutputChannels int `json:"output_channels"`
}

type Timing struct {
	Dt               time.Duration `json:"dt"`
	MaxSpikesPerStep int           `json:"max_spikes_per_step"`
	StateBits        int           `json:"state_bits"`
}

// Configuration is the validated, device-ready payload produced once per
// deployment. Holders must treat it as read-only; backends copy it on load.
type Configuration struct {
	VersionedRecord
	ID                string        `json:"id"`
	Name              string        `json:"name,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	Spec              QuantizedSpec `json:"spec"`
	Routing           Routing       `json:"routing"`
	Timing            Timing        `json:"timing"`
	WeightMemoryBytes int           `json:"weight_memory_bytes"`
	Valid             bool          `json:"valid"`
}

func (c Configuration) Clone() Configuration {
	out := c
	out.Spec = c.Spec.Clone()
	return out
}

// Recording is a persisted monitor snapshot taken at the end of a session.
type Recording struct {
	VersionedRecord
	ID              string             `json:"id"`
	ConfigurationID string             `json:"configuration_id"`
	StartedAt       time.Time          `json:"started_at"`
	Cadence         time.Duration      `json:"cadence"`
	Cursor          time.Duration      `json:"cursor"`
	Polls           int                `json:"polls"`
	Appends         int                `json:"appends"`
	Misses          int                `json:"misses"`
	Channels        [][]float64        `json:"channels"`
	Telemetry       map[string]float64 `json:"telemetry,omitempty"`
}
