package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
	"spikedeploy/internal/runtime"
)

const (
	DefaultCadence              = 100 * time.Millisecond
	DefaultCapacity             = 1024
	DefaultMaxConsecutiveErrors = 3
)

// Stepper is the part of runtime.Runtime the monitor drives.
type Stepper interface {
	Step(ctx context.Context, input []model.EventFrame, opts runtime.StepOptions) (runtime.StepResult, error)
}

// InputSource supplies the input chunk for one poll. Frame timesteps are
// relative to the chunk.
type InputSource interface {
	Next(ctx context.Context, timesteps int) ([]model.EventFrame, error)
}

type InputSourceFunc func(ctx context.Context, timesteps int) ([]model.EventFrame, error)

func (f InputSourceFunc) Next(ctx context.Context, timesteps int) ([]model.EventFrame, error) {
	return f(ctx, timesteps)
}

type silentSource struct{}

func (silentSource) Next(context.Context, int) ([]model.EventFrame, error) { return nil, nil }

type Config struct {
	Cadence time.Duration
	// ChunkSize is the number of timesteps evolved per poll.
	ChunkSize int
	Capacity  int
	Channels  int
	// Duration and MaxPolls bound the session when positive.
	Duration             time.Duration
	MaxPolls             int
	MaxConsecutiveErrors int
	// Source defaults to silence.
	Source      InputSource
	RecordPower bool
}

func (c Config) normalize() (Config, error) {
	if c.Cadence == 0 {
		c.Cadence = DefaultCadence
	}
	if c.Cadence < 0 {
		return Config{}, fmt.Errorf("monitor cadence must be positive: %v", c.Cadence)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Channels <= 0 {
		return Config{}, fmt.Errorf("monitor needs at least one channel: %d", c.Channels)
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.Source == nil {
		c.Source = silentSource{}
	}
	return c, nil
}

type Snapshot struct {
	Channels  [][]float64
	Cursor    time.Duration
	Polls     int
	Appends   int
	Misses    int
	Telemetry map[string]float64
}

// Monitor polls a runtime at a fixed cadence and keeps a rolling per-channel
// history of output activity.
type Monitor struct {
	cfg     Config
	stepper Stepper

	mu        sync.RWMutex
	histories []*History[float64]
	cursor    time.Duration
	polls     int
	appends   int
	misses    int
	telemetry map[string]float64
}

func New(stepper Stepper, cfg Config) (*Monitor, error) {
	if stepper == nil {
		return nil, fmt.Errorf("%w: monitor has no runtime", runtime.ErrRuntimeUnavailable)
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	histories := make([]*History[float64], cfg.Channels)
	for i := range histories {
		h, err := NewHistory[float64](cfg.Capacity)
		if err != nil {
			return nil, err
		}
		histories[i] = h
	}
	return &Monitor{cfg: cfg, stepper: stepper, histories: histories}, nil
}

func (m *Monitor) Config() Config {
	return m.cfg
}

// Run polls until ctx is canceled, Duration elapses or MaxPolls polls have
// been made; these stops return nil. Unavailable or failing devices are
// tolerated up to MaxConsecutiveErrors in a row. Any other error stops the
// loop and is returned.
func (m *Monitor) Run(ctx context.Context) error {
	log := klog.FromContext(ctx)
	ticker := time.NewTicker(m.cfg.Cadence)
	defer ticker.Stop()

	start := time.Now()
	consecutive := 0
	log.Info("monitor started", "cadence", m.cfg.Cadence, "chunk", m.cfg.ChunkSize, "channels", m.cfg.Channels)
	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped", "reason", "canceled")
			return nil
		case <-ticker.C:
		}
		if m.cfg.Duration > 0 && time.Since(start) >= m.cfg.Duration {
			log.Info("monitor stopped", "reason", "duration")
			return nil
		}

		err := m.poll(ctx)
		switch {
		case err == nil:
			consecutive = 0
		case ctx.Err() != nil:
			log.Info("monitor stopped", "reason", "canceled")
			return nil
		case errors.Is(err, runtime.ErrRuntimeUnavailable) || errors.Is(err, runtime.ErrDeviceIO):
			consecutive++
			m.mu.Lock()
			m.misses++
			m.mu.Unlock()
			log.Error(err, "monitor poll failed", "consecutive", consecutive)
			if consecutive >= m.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("monitor gave up after %d consecutive failures: %w", consecutive, err)
			}
		default:
			return fmt.Errorf("monitor poll: %w", err)
		}

		if m.cfg.MaxPolls > 0 && m.Snapshot().Polls >= m.cfg.MaxPolls {
			log.Info("monitor stopped", "reason", "max polls")
			return nil
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.polls++
		m.mu.Unlock()
	}()

	input, err := m.cfg.Source.Next(ctx, m.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("input source: %w", err)
	}
	result, err := m.stepper.Step(ctx, input, runtime.StepOptions{
		Timesteps:   m.cfg.ChunkSize,
		RecordPower: m.cfg.RecordPower,
	})
	if err != nil {
		return err
	}
	if result.Empty() {
		klog.FromContext(ctx).V(2).Info("no data this poll")
		return nil
	}

	peaks := make([]float64, m.cfg.Channels)
	for _, frame := range result.Frames {
		for _, ev := range frame.Events {
			if ev.Channel >= 0 && ev.Channel < len(peaks) && float64(ev.Count) > peaks[ev.Channel] {
				peaks[ev.Channel] = float64(ev.Count)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch, v := range peaks {
		m.histories[ch].Append(v)
	}
	m.cursor += m.cfg.Cadence
	m.appends++
	if result.Telemetry != nil {
		m.telemetry = maps.Clone(result.Telemetry)
	}
	return nil
}

// Snapshot returns a copy of the monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Channels:  make([][]float64, len(m.histories)),
		Cursor:    m.cursor,
		Polls:     m.polls,
		Appends:   m.appends,
		Misses:    m.misses,
		Telemetry: maps.Clone(m.telemetry),
	}
	for i, h := range m.histories {
		snap.Channels[i] = h.Values()
	}
	return snap
}
