package spikedeploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
	"spikedeploy/internal/monitor"
	"spikedeploy/internal/runtime"
	"spikedeploy/internal/storage"
)

type MonitorRequest struct {
	ConfigurationID string
	// Backend defaults to the bit-exact simulator.
	Backend runtime.Backend
	// Monitor.Channels defaults to the configuration's output channels and
	// Monitor.ChunkSize to one cadence worth of timesteps.
	Monitor monitor.Config
}

// MonitorSession is a loaded runtime plus the monitor polling it.
type MonitorSession struct {
	ID            string
	Configuration model.Configuration
	Runtime       *runtime.Runtime
	Monitor       *monitor.Monitor

	client    *Client
	startedAt time.Time
}

func (c *Client) StartMonitor(ctx context.Context, req MonitorRequest) (*MonitorSession, error) {
	config, err := c.Configuration(ctx, req.ConfigurationID)
	if err != nil {
		return nil, err
	}
	backend := req.Backend
	if backend == nil {
		backend = runtime.NewSimulator()
	}
	rt := runtime.New(backend)
	if err := rt.Load(ctx, config); err != nil {
		return nil, err
	}

	cfg := req.Monitor
	if cfg.Channels == 0 {
		cfg.Channels = config.Routing.OutputChannels
	}
	if cfg.Cadence == 0 {
		cfg.Cadence = monitor.DefaultCadence
	}
	if cfg.ChunkSize == 0 && config.Timing.Dt > 0 {
		cfg.ChunkSize = max(1, int(cfg.Cadence/config.Timing.Dt))
	}
	m, err := monitor.New(rt, cfg)
	if err != nil {
		return nil, err
	}
	return &MonitorSession{
		ID:            uuid.NewString(),
		Configuration: config,
		Runtime:       rt,
		Monitor:       m,
		client:        c,
	}, nil
}

// Run drives the monitor to completion and persists the final snapshot as a
// recording. The recording is saved even when the monitor stops on an error.
func (s *MonitorSession) Run(ctx context.Context) (model.Recording, error) {
	s.startedAt = time.Now().UTC()
	runErr := s.Monitor.Run(ctx)

	snap := s.Monitor.Snapshot()
	recording := model.Recording{
		VersionedRecord: storage.CurrentVersion(),
		ID:              s.ID,
		ConfigurationID: s.Configuration.ID,
		StartedAt:       s.startedAt,
		Cadence:         s.Monitor.Config().Cadence,
		Cursor:          snap.Cursor,
		Polls:           snap.Polls,
		Appends:         snap.Appends,
		Misses:          snap.Misses,
		Channels:        snap.Channels,
		Telemetry:       snap.Telemetry,
	}
	// Saving must outlive a canceled session context.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.client.store.SaveRecording(saveCtx, recording); err != nil {
		return recording, errors.Join(runErr, fmt.Errorf("save recording %s: %w", s.ID, err))
	}
	klog.FromContext(ctx).Info("recording saved", "id", s.ID, "configuration", s.Configuration.ID, "polls", snap.Polls, "appends", snap.Appends)
	return recording, runErr
}
