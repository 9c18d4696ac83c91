package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"spikedeploy/internal/model"
	"spikedeploy/internal/monitor"
	"spikedeploy/internal/runtime"
)

// rasterSource replays a raster in a loop, one chunk per poll.
type rasterSource struct {
	mu     sync.Mutex
	raster [][]int
	next   int
}

func newRasterSource(raster [][]int) *rasterSource {
	return &rasterSource{raster: raster}
}

func (s *rasterSource) Next(_ context.Context, timesteps int) ([]model.EventFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([]model.EventFrame, 0, timesteps)
	for t := 0; t < timesteps; t++ {
		frames = append(frames, model.FrameFromCounts(t, s.raster[s.next]))
		s.next = (s.next + 1) % len(s.raster)
	}
	return frames, nil
}

const sparkLevels = " .:-=+*#%@"

type renderer struct {
	out  io.Writer
	live bool
	off  bool
}

func newRenderer(mode string, out *os.File) (*renderer, error) {
	switch mode {
	case "auto":
		fd := out.Fd()
		return &renderer{out: out, live: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}, nil
	case "live":
		return &renderer{out: out, live: true}, nil
	case "lines":
		return &renderer{out: out}, nil
	case "none":
		return &renderer{out: out, off: true}, nil
	default:
		return nil, fmt.Errorf("unknown render mode: %s", mode)
	}
}

// start redraws the monitor snapshot every interval until the returned stop
// function is called.
func (r *renderer) start(m *monitor.Monitor, interval time.Duration) func() {
	if r.off {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastAppends := -1
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			snap := m.Snapshot()
			if snap.Appends == lastAppends {
				continue
			}
			lastAppends = snap.Appends
			r.draw(snap)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		if r.live {
			fmt.Fprintln(r.out)
		}
	}
}

func (r *renderer) draw(snap monitor.Snapshot) {
	if r.live {
		fmt.Fprint(r.out, "\033[H\033[2J")
		fmt.Fprint(r.out, formatSnapshot(snap, 60))
		return
	}
	fmt.Fprintln(r.out, formatLatest(snap))
}

// formatLatest renders the newest value of every channel on one line.
func formatLatest(snap monitor.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "t=%s polls=%d misses=%d", snap.Cursor, snap.Polls, snap.Misses)
	for ch, values := range snap.Channels {
		last := 0.0
		if len(values) > 0 {
			last = values[len(values)-1]
		}
		fmt.Fprintf(&b, " ch%d=%g", ch, last)
	}
	if e, ok := snap.Telemetry[runtime.TelemetryEnergyJoules]; ok {
		fmt.Fprintf(&b, " energy=%s", humanize.SIWithDigits(e, 2, "J"))
	}
	return b.String()
}

// formatSnapshot renders the last width values of every channel as a
// sparkline scaled to the channel's peak.
func formatSnapshot(snap monitor.Snapshot, width int) string {
	var b strings.Builder
	b.WriteString(formatLatest(snap))
	b.WriteByte('\n')
	for ch, values := range snap.Channels {
		if len(values) > width {
			values = values[len(values)-width:]
		}
		peak := 0.0
		for _, v := range values {
			peak = max(peak, v)
		}
		fmt.Fprintf(&b, "ch%-3d |", ch)
		for _, v := range values {
			level := 0
			if peak > 0 {
				level = int(v / peak * float64(len(sparkLevels)-1))
			}
			b.WriteByte(sparkLevels[level])
		}
		fmt.Fprintf(&b, "| peak=%g\n", peak)
	}
	return b.String()
}
