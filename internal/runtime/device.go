package runtime

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"spikedeploy/internal/model"
	"spikedeploy/internal/storage"
)

// Link is the transport to a physical accelerator. Receive reports ready=false
// when the device has no readout available yet.
type Link interface {
	Configure(ctx context.Context, payload []byte) error
	Send(ctx context.Context, input []model.EventFrame, opts StepOptions) error
	Receive(ctx context.Context) (result StepResult, ready bool, err error)
	Reset(ctx context.Context) error
}

// DeviceProxy drives an accelerator over a Link. Neuron state lives on the
// device.
type DeviceProxy struct {
	mu     sync.Mutex
	link   Link
	loaded bool
	id     string
}

var _ Backend = (*DeviceProxy)(nil)

func NewDeviceProxy(link Link) *DeviceProxy {
	return &DeviceProxy{link: link}
}

func (d *DeviceProxy) Load(ctx context.Context, config model.Configuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.link == nil {
		return fmt.Errorf("%w: no device attached", ErrRuntimeUnavailable)
	}
	payload, err := storage.EncodeConfiguration(config)
	if err != nil {
		return fmt.Errorf("encode configuration %s: %w", config.ID, err)
	}
	if err := d.link.Configure(ctx, payload); err != nil {
		return fmt.Errorf("%w: configure: %v", ErrDeviceIO, err)
	}
	d.loaded = true
	d.id = config.ID
	klog.FromContext(ctx).Info("device configured", "id", config.ID, "payloadBytes", len(payload))
	return nil
}

func (d *DeviceProxy) Step(ctx context.Context, input []model.EventFrame, opts StepOptions) (StepResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.link == nil {
		return StepResult{}, fmt.Errorf("%w: no device attached", ErrRuntimeUnavailable)
	}
	if !d.loaded {
		return StepResult{}, fmt.Errorf("%w: device has no configuration", ErrRuntimeUnavailable)
	}
	if err := d.link.Send(ctx, input, opts); err != nil {
		return StepResult{}, fmt.Errorf("%w: send: %v", ErrDeviceIO, err)
	}
	result, ready, err := d.link.Receive(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: receive: %v", ErrDeviceIO, err)
	}
	if !ready {
		klog.FromContext(ctx).V(2).Info("device readout not ready", "id", d.id)
		return StepResult{}, nil
	}
	result.Frames = model.CloneFrames(result.Frames)
	return result, nil
}

func (d *DeviceProxy) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.link == nil {
		return fmt.Errorf("%w: no device attached", ErrRuntimeUnavailable)
	}
	if err := d.link.Reset(ctx); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrDeviceIO, err)
	}
	return nil
}
