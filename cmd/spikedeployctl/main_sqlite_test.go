//go:build sqlite

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spikedeploy/internal/storage"
)

func TestCommandsShareSQLiteStore(t *testing.T) {
	ctx := context.Background()
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "spikedeploy.db")
	network := writeNetwork(t, 4, 6, 2)
	store := []string{"--store", "sqlite", "--location", dbPath}

	out, err := captureStdout(func() error {
		return run(ctx, append([]string{"deploy", "--network", network}, store...))
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !strings.Contains(out, "saved=true") {
		t.Fatalf("unexpected deploy output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"list"}, store...))
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "shape=4x6x2") {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"show", "--latest"}, store...))
	})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "routing inputs=4 hidden=6 outputs=2") {
		t.Fatalf("unexpected show output: %q", out)
	}

	outDir := filepath.Join(workdir, "exports")
	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"export", "--latest", "--out", outDir}, store...))
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one exported file: entries=%v err=%v", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if _, err := storage.DecodeConfiguration(data); err != nil {
		t.Fatalf("decode export: %v", err)
	}

	id := strings.TrimSuffix(entries[0].Name(), ".json")
	out, err = captureStdout(func() error {
		return run(ctx, append([]string{"monitor", "--id", id, "--cadence", "1ms", "--polls", "2", "--render", "lines"}, store...))
	})
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if !strings.Contains(out, "polls=2") {
		t.Fatalf("unexpected monitor output: %q", out)
	}
}
