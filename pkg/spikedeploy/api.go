package spikedeploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"spikedeploy/internal/graph"
	"spikedeploy/internal/hwconfig"
	"spikedeploy/internal/hwmap"
	"spikedeploy/internal/model"
	"spikedeploy/internal/quant"
	"spikedeploy/internal/runtime"
	"spikedeploy/internal/storage"
)

const (
	defaultDBPath     = "spikedeploy.db"
	defaultExportsDir = "exports"
	defaultWorkers    = 4
)

var (
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrRecordingNotFound     = errors.New("recording not found")
)

type Options struct {
	StoreKind string
	// Location is the sqlite path or the gcs bucket.
	Location   string
	ExportsDir string
}

type Client struct {
	store      storage.Store
	exportsDir string
}

// Target describes the accelerator a network is deployed to.
type Target struct {
	Limits hwmap.Limits
	Quant  quant.Options
	// Dt applies when the network does not carry its own timestep.
	Dt time.Duration
}

func DefaultTarget() Target {
	return Target{
		Limits: hwmap.DefaultLimits(),
		Quant:  quant.DefaultOptions(),
		Dt:     hwmap.DefaultDt,
	}
}

type DeployRequest struct {
	Name    string
	Network graph.Network
	Target  Target
	// DryRun skips persisting the configuration.
	DryRun bool
}

type DeploySummary struct {
	Configuration model.Configuration
	Spec          model.HardwareSpec
	Saved         bool
}

type ConfigurationItem struct {
	ID                string
	Name              string
	CreatedAt         time.Time
	Inputs            int
	Hidden            int
	Outputs           int
	WeightMemoryBytes int
}

type ListRequest struct {
	Limit int
}

type ExportRequest struct {
	ID     string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	ID    string
	Path  string
	Bytes int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	location := opts.Location
	if location == "" && storeKind == "sqlite" {
		location = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, location)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, exportsDir: exportsDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Deploy runs extraction, mapping, quantization and configuration building
// and saves the configuration. A configuration that fails validation is
// returned with Valid=false alongside the error and is not saved.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (DeploySummary, error) {
	if req.Network == nil {
		return DeploySummary{}, errors.New("deploy requires a network")
	}
	if err := ctx.Err(); err != nil {
		return DeploySummary{}, err
	}
	log := klog.FromContext(ctx).WithValues("name", req.Name)
	target := req.Target
	target.Limits = target.Limits.Normalize()
	if target.Quant.WeightBits == 0 {
		target.Quant.WeightBits = target.Limits.WeightBits
	}
	if target.Quant.ThresholdBits == 0 {
		target.Quant.ThresholdBits = target.Limits.ThresholdBits
	}

	g, err := graph.Extract(req.Network)
	if err != nil {
		return DeploySummary{}, fmt.Errorf("extract graph: %w", err)
	}
	spec, err := hwmap.Map(g, hwmap.Options{Limits: target.Limits, Dt: target.Dt})
	if err != nil {
		return DeploySummary{}, fmt.Errorf("map to hardware: %w", err)
	}
	log.V(2).Info("mapped network", "inputs", spec.Inputs(), "hidden", spec.Neurons(), "outputs", spec.Outputs(), "dt", spec.Dt)

	q, err := quant.Quantize(spec, target.Quant)
	if err != nil {
		return DeploySummary{Spec: spec}, fmt.Errorf("quantize: %w", err)
	}
	config, err := hwconfig.Build(q, hwconfig.BuildOptions{Name: req.Name, Limits: target.Limits})
	summary := DeploySummary{Configuration: config, Spec: spec}
	if err != nil {
		log.Error(err, "configuration rejected")
		return summary, fmt.Errorf("build configuration: %w", err)
	}
	if req.DryRun {
		return summary, nil
	}
	if err := c.store.SaveConfiguration(ctx, config); err != nil {
		return summary, fmt.Errorf("save configuration %s: %w", config.ID, err)
	}
	summary.Saved = true
	log.Info("configuration deployed", "id", config.ID, "weightMemoryBytes", config.WeightMemoryBytes)
	return summary, nil
}

// DeployAll deploys independent networks in parallel. Summaries are returned
// in request order; the first failure cancels the remaining deployments.
func (c *Client) DeployAll(ctx context.Context, reqs []DeployRequest, workers int) ([]DeploySummary, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	out := make([]DeploySummary, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			summary, err := c.Deploy(gctx, req)
			out[i] = summary
			if err != nil {
				return fmt.Errorf("deploy %q: %w", req.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) Configuration(ctx context.Context, id string) (model.Configuration, error) {
	config, ok, err := c.store.GetConfiguration(ctx, id)
	if err != nil {
		return model.Configuration{}, err
	}
	if !ok {
		return model.Configuration{}, fmt.Errorf("%w: %s", ErrConfigurationNotFound, id)
	}
	return config, nil
}

// Configurations lists stored configurations, newest first.
func (c *Client) Configurations(ctx context.Context, req ListRequest) ([]ConfigurationItem, error) {
	ids, err := c.store.ListConfigurations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ConfigurationItem, 0, len(ids))
	for _, id := range ids {
		config, err := c.Configuration(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ConfigurationItem{
			ID:                config.ID,
			Name:              config.Name,
			CreatedAt:         config.CreatedAt,
			Inputs:            config.Routing.InputChannels,
			Hidden:            config.Routing.HiddenNeurons,
			Outputs:           config.Routing.OutputChannels,
			WeightMemoryBytes: config.WeightMemoryBytes,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Export writes a configuration as its versioned JSON payload.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.ID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either configuration id or latest")
	}
	if req.ID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires configuration id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	id := req.ID
	if req.Latest {
		items, err := c.Configurations(ctx, ListRequest{Limit: 1})
		if err != nil {
			return ExportSummary{}, err
		}
		if len(items) == 0 {
			return ExportSummary{}, errors.New("no configurations available to export")
		}
		id = items[0].ID
	}
	config, err := c.Configuration(ctx, id)
	if err != nil {
		return ExportSummary{}, err
	}
	payload, err := storage.EncodeConfiguration(config)
	if err != nil {
		return ExportSummary{}, err
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return ExportSummary{}, err
	}
	path := filepath.Join(req.OutDir, id+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{ID: id, Path: filepath.Clean(path), Bytes: len(payload)}, nil
}

// OpenSimulator loads a stored configuration into a fresh simulator runtime.
func (c *Client) OpenSimulator(ctx context.Context, id string) (*runtime.Runtime, model.Configuration, error) {
	config, err := c.Configuration(ctx, id)
	if err != nil {
		return nil, model.Configuration{}, err
	}
	rt := runtime.New(runtime.NewSimulator())
	if err := rt.Load(ctx, config); err != nil {
		return nil, model.Configuration{}, err
	}
	return rt, config, nil
}

func (c *Client) Recording(ctx context.Context, id string) (model.Recording, error) {
	recording, ok, err := c.store.GetRecording(ctx, id)
	if err != nil {
		return model.Recording{}, err
	}
	if !ok {
		return model.Recording{}, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	return recording, nil
}
