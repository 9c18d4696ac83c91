package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spikedeploy/internal/graph"
	"spikedeploy/internal/hwmap"
	"spikedeploy/internal/model"
	"spikedeploy/internal/storage"
)

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}

func ramp(rows, cols int, step float64) model.Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(i%4+1) * step
	}
	return model.Tensor{Shape: []int{rows, cols}, Data: data}
}

func writeNetwork(t *testing.T, nin, nhid, nout int) string {
	t.Helper()
	lif := func(name string) graph.ModuleDoc {
		return graph.ModuleDoc{ModuleName: name, ModuleKind: graph.KindLIF, Params: map[string]model.Tensor{
			graph.ParamTauMem:    model.Scalar(0.016),
			graph.ParamTauSyn:    model.Scalar(0.008),
			graph.ParamThreshold: model.Scalar(1),
		}}
	}
	doc := graph.Document{Name: "kws", ModuleDocs: []graph.ModuleDoc{
		{ModuleName: "in", ModuleKind: graph.KindLinear, Params: map[string]model.Tensor{graph.ParamWeight: ramp(nin, nhid, 0.2)}},
		lif("hidden"),
		{ModuleName: "out", ModuleKind: graph.KindLinear, Params: map[string]model.Tensor{graph.ParamWeight: ramp(nhid, nout, 0.25)}},
		lif("readout"),
	}}
	data, err := graph.EncodeDocument(doc)
	if err != nil {
		t.Fatalf("encode network: %v", err)
	}
	path := filepath.Join(t.TempDir(), "network.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write network: %v", err)
	}
	return path
}

func TestRunRejectsUnknownCommands(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestDeployDryRun(t *testing.T) {
	network := writeNetwork(t, 4, 6, 2)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"deploy", "--store", "memory", "--network", network, "--dry-run"})
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	for _, want := range []string{"deployed id=", "name=kws", "inputs=4", "hidden=6", "outputs=2", "saved=false"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestDeployJSONOutput(t *testing.T) {
	network := writeNetwork(t, 4, 6, 2)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"deploy", "--store", "memory", "--network", network, "--name", "wake", "--json", "--weight-bits", "6"})
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	config, err := storage.DecodeConfiguration([]byte(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if config.Name != "wake" || config.Spec.WeightBits != 6 || !config.Valid {
		t.Fatalf("unexpected configuration: name=%s bits=%d valid=%t", config.Name, config.Spec.WeightBits, config.Valid)
	}
}

func TestDeployRejectsOversizedNetwork(t *testing.T) {
	network := writeNetwork(t, 4, 6, 2)
	target := writeJSON(t, "target.json", map[string]any{"max_hidden": 4})
	_, err := captureStdout(func() error {
		return run(context.Background(), []string{"deploy", "--store", "memory", "--network", network, "--target", target})
	})
	if !errors.Is(err, hwmap.ErrResourceExceeded) {
		t.Fatalf("expected ErrResourceExceeded, got %v", err)
	}
}

func TestDeployRequiresNetwork(t *testing.T) {
	if err := run(context.Background(), []string{"deploy", "--store", "memory"}); err == nil || !strings.Contains(err.Error(), "--network") {
		t.Fatalf("expected missing network error, got %v", err)
	}
}

func TestMonitorDeploysAndRecords(t *testing.T) {
	network := writeNetwork(t, 4, 6, 2)
	raster := writeJSON(t, "raster.json", [][]int{{1, 0, 1, 0}, {0, 1, 0, 1}})
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"monitor",
			"--store", "memory",
			"--network", network,
			"--input", raster,
			"--cadence", "1ms",
			"--polls", "3",
			"--power",
			"--render", "none",
		})
	})
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	for _, want := range []string{"monitoring id=", "recording id=", "polls=3", "appends=3", "misses=0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestMonitorRequiresSelection(t *testing.T) {
	if err := run(context.Background(), []string{"monitor", "--store", "memory"}); err == nil {
		t.Fatal("expected error without --id or --network")
	}
	if err := run(context.Background(), []string{"monitor", "--store", "memory", "--id", "x", "--network", "y"}); err == nil {
		t.Fatal("expected error with both --id and --network")
	}
	if err := run(context.Background(), []string{"monitor", "--store", "memory", "--id", "missing", "--render", "none"}); err == nil {
		t.Fatal("expected error for unknown configuration")
	}
}

func TestShowAndExportRequireSelection(t *testing.T) {
	if err := run(context.Background(), []string{"show", "--store", "memory"}); err == nil {
		t.Fatal("expected show selection error")
	}
	if err := run(context.Background(), []string{"export", "--store", "memory", "--id", "a", "--latest"}); err == nil {
		t.Fatal("expected export selection error")
	}
}

func TestListEmptyStore(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"list", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "no configurations found") {
		t.Fatalf("unexpected output: %q", out)
	}
}
