package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
	"k8s.io/klog/v2"

	"spikedeploy/internal/graph"
	"spikedeploy/internal/monitor"
	"spikedeploy/internal/storage"
	"spikedeploy/pkg/spikedeploy"
)

const (
	exportsDir      = "exports"
	timestampLayout = "%Y-%m-%d %H:%M:%S"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	klog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "deploy":
		return runDeploy(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "list":
		return runList(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "monitor":
		return runMonitor(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind     *string
	location *string
}

func newFlagSet(name string) (*flag.FlagSet, storeFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	klog.InitFlags(fs)
	return fs, storeFlags{
		kind:     fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|gcs"),
		location: fs.String("location", "", "sqlite database path or gs:// bucket"),
	}
}

func openClient(ctx context.Context, sf storeFlags) (*spikedeploy.Client, error) {
	client, err := spikedeploy.New(spikedeploy.Options{
		StoreKind:  *sf.kind,
		Location:   *sf.location,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

type deployFlags struct {
	network    *string
	target     *string
	name       *string
	weightBits *int
	rounding   *string
	dtMS       *float64
}

func addDeployFlags(fs *flag.FlagSet) deployFlags {
	return deployFlags{
		network:    fs.String("network", "", "trained network document (JSON)"),
		target:     fs.String("target", "", "target hardware description (JSON)"),
		name:       fs.String("name", "", "configuration name"),
		weightBits: fs.Int("weight-bits", 0, "override target weight bit width"),
		rounding:   fs.String("rounding", "", "override rounding mode: half_even|half_away"),
		dtMS:       fs.Float64("dt-ms", 0, "override timestep in milliseconds"),
	}
}

func (df deployFlags) request(fs *flag.FlagSet) (spikedeploy.DeployRequest, error) {
	if *df.network == "" {
		return spikedeploy.DeployRequest{}, errors.New("deploy requires --network")
	}
	doc, err := graph.LoadDocument(*df.network)
	if err != nil {
		return spikedeploy.DeployRequest{}, err
	}
	target := spikedeploy.DefaultTarget()
	if *df.target != "" {
		target, err = loadTargetFromConfig(*df.target)
		if err != nil {
			return spikedeploy.DeployRequest{}, err
		}
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := overrideTargetFromFlags(&target, set, map[string]any{
		"weight-bits": *df.weightBits,
		"rounding":    *df.rounding,
		"dt-ms":       *df.dtMS,
	}); err != nil {
		return spikedeploy.DeployRequest{}, err
	}
	name := *df.name
	if name == "" {
		name = doc.Name
	}
	return spikedeploy.DeployRequest{Name: name, Network: doc, Target: target}, nil
}

func runDeploy(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("deploy")
	df := addDeployFlags(fs)
	dryRun := fs.Bool("dry-run", false, "validate without saving")
	jsonOut := fs.Bool("json", false, "emit the configuration as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := df.request(fs)
	if err != nil {
		return err
	}
	req.DryRun = *dryRun

	client, err := openClient(ctx, sf)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Deploy(ctx, req)
	if err != nil {
		if summary.Configuration.ID != "" {
			fmt.Printf("rejected name=%s inputs=%d hidden=%d outputs=%d weight_memory=%s\n",
				req.Name,
				summary.Configuration.Routing.InputChannels,
				summary.Configuration.Routing.HiddenNeurons,
				summary.Configuration.Routing.OutputChannels,
				humanize.IBytes(uint64(summary.Configuration.WeightMemoryBytes)),
			)
		}
		return err
	}
	if *jsonOut {
		payload, err := storage.EncodeConfiguration(summary.Configuration)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(payload, '\n'))
		return err
	}
	config := summary.Configuration
	fmt.Printf("deployed id=%s name=%s inputs=%d hidden=%d outputs=%d dt=%s weight_memory=%s saved=%t created_at=%s\n",
		config.ID,
		config.Name,
		config.Routing.InputChannels,
		config.Routing.HiddenNeurons,
		config.Routing.OutputChannels,
		config.Timing.Dt,
		humanize.IBytes(uint64(config.WeightMemoryBytes)),
		summary.Saved,
		strftime.Format(timestampLayout, config.CreatedAt),
	)
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("show")
	id := fs.String("id", "", "configuration id")
	latest := fs.Bool("latest", false, "show the newest configuration")
	jsonOut := fs.Bool("json", false, "emit the configuration as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id != "" && *latest {
		return errors.New("use either --id or --latest, not both")
	}
	if *id == "" && !*latest {
		return errors.New("show requires --id or --latest")
	}

	client, err := openClient(ctx, sf)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *latest {
		items, err := client.Configurations(ctx, spikedeploy.ListRequest{Limit: 1})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errors.New("no configurations stored")
		}
		*id = items[0].ID
	}
	config, err := client.Configuration(ctx, *id)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(config)
	}

	q := config.Spec
	fmt.Printf("id=%s name=%s created_at=%s valid=%t\n", config.ID, config.Name, strftime.Format(timestampLayout, config.CreatedAt), config.Valid)
	fmt.Printf("routing inputs=%d hidden=%d outputs=%d\n", config.Routing.InputChannels, config.Routing.HiddenNeurons, config.Routing.OutputChannels)
	fmt.Printf("timing dt=%s max_spikes_per_step=%d state_bits=%d\n", config.Timing.Dt, config.Timing.MaxSpikesPerStep, config.Timing.StateBits)
	fmt.Printf("weights bits=%d threshold_bits=%d memory=%s\n", q.WeightBits, q.ThresholdBits, humanize.IBytes(uint64(config.WeightMemoryBytes)))
	for i := range q.OutputScale {
		fmt.Printf("output[%d] scale=%.6g threshold=%d dash_mem=%d dash_syn=%d\n", i, q.OutputScale[i], q.Output.Threshold[i], q.Output.DashMem[i], q.Output.DashSyn[i])
	}
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("list")
	limit := fs.Int("limit", 20, "max configurations to list")
	jsonOut := fs.Bool("json", false, "emit list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := openClient(ctx, sf)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Configurations(ctx, spikedeploy.ListRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type listItem struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			CreatedAt         string `json:"created_at"`
			Inputs            int    `json:"inputs"`
			Hidden            int    `json:"hidden"`
			Outputs           int    `json:"outputs"`
			WeightMemoryBytes int    `json:"weight_memory_bytes"`
		}
		out := make([]listItem, 0, len(items))
		for _, item := range items {
			out = append(out, listItem{
				ID:                item.ID,
				Name:              item.Name,
				CreatedAt:         item.CreatedAt.Format(time.RFC3339),
				Inputs:            item.Inputs,
				Hidden:            item.Hidden,
				Outputs:           item.Outputs,
				WeightMemoryBytes: item.WeightMemoryBytes,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(items) == 0 {
		fmt.Println("no configurations found")
		return nil
	}
	for _, item := range items {
		fmt.Printf("id=%s name=%s created_at=%s shape=%dx%dx%d weight_memory=%s\n",
			item.ID,
			item.Name,
			strftime.Format(timestampLayout, item.CreatedAt),
			item.Inputs,
			item.Hidden,
			item.Outputs,
			humanize.IBytes(uint64(item.WeightMemoryBytes)),
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("export")
	id := fs.String("id", "", "configuration id")
	latest := fs.Bool("latest", false, "export the newest configuration")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id != "" && *latest {
		return errors.New("use either --id or --latest, not both")
	}
	if *id == "" && !*latest {
		return errors.New("export requires --id or --latest")
	}

	client, err := openClient(ctx, sf)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, spikedeploy.ExportRequest{ID: *id, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported id=%s to=%s size=%s\n", summary.ID, summary.Path, humanize.IBytes(uint64(summary.Bytes)))
	return nil
}

func runMonitor(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("monitor")
	id := fs.String("id", "", "configuration id")
	df := addDeployFlags(fs)
	cadence := fs.Duration("cadence", monitor.DefaultCadence, "poll cadence")
	duration := fs.Duration("duration", 0, "session length, 0 until interrupted")
	polls := fs.Int("polls", 0, "stop after this many polls, 0 for no limit")
	capacity := fs.Int("capacity", monitor.DefaultCapacity, "history length per channel")
	maxErrors := fs.Int("max-errors", monitor.DefaultMaxConsecutiveErrors, "consecutive failed polls before giving up")
	inputPath := fs.String("input", "", "input raster (JSON [timestep][channel] counts) replayed in a loop")
	power := fs.Bool("power", false, "record power telemetry")
	mode := fs.String("render", "auto", "render mode: auto|live|lines|none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id != "" && *df.network != "" {
		return errors.New("use either --id or --network, not both")
	}
	if *id == "" && *df.network == "" {
		return errors.New("monitor requires --id or --network")
	}
	var source monitor.InputSource
	if *inputPath != "" {
		raster, err := loadRaster(*inputPath)
		if err != nil {
			return err
		}
		source = newRasterSource(raster)
	}

	client, err := openClient(ctx, sf)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *df.network != "" {
		req, err := df.request(fs)
		if err != nil {
			return err
		}
		summary, err := client.Deploy(ctx, req)
		if err != nil {
			return err
		}
		*id = summary.Configuration.ID
	}

	session, err := client.StartMonitor(ctx, spikedeploy.MonitorRequest{
		ConfigurationID: *id,
		Monitor: monitor.Config{
			Cadence:              *cadence,
			Capacity:             *capacity,
			Duration:             *duration,
			MaxPolls:             *polls,
			MaxConsecutiveErrors: *maxErrors,
			Source:               source,
			RecordPower:          *power,
		},
	})
	if err != nil {
		return err
	}

	renderer, err := newRenderer(*mode, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("monitoring id=%s session=%s cadence=%s started_at=%s\n", *id, session.ID, *cadence, strftime.Format(timestampLayout, time.Now()))
	stopRender := renderer.start(session.Monitor, *cadence)
	recording, runErr := session.Run(ctx)
	stopRender()

	fmt.Printf("recording id=%s polls=%d appends=%d misses=%d cursor=%s\n",
		recording.ID, recording.Polls, recording.Appends, recording.Misses, recording.Cursor)
	return runErr
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: spikedeployctl <deploy|show|list|export|monitor> [flags]", msg)
}
