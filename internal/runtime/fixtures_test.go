package runtime

import (
	"context"
	"sync"
	"time"

	"spikedeploy/internal/model"
)

// tinyConfiguration is one input, one hidden and one output neuron with
// hand-checkable integer dynamics.
func tinyConfiguration(maxSpikes, stateBits int) model.Configuration {
	win := model.NewIntMatrix(1, 1)
	win.Set(0, 0, 10)
	wout := model.NewIntMatrix(1, 1)
	wout.Set(0, 0, 5)
	return model.Configuration{
		ID: "tiny",
		Spec: model.QuantizedSpec{
			WeightsIn:   win,
			WeightsRec:  model.NewIntMatrix(1, 1),
			WeightsOut:  wout,
			HiddenScale: []float64{0.1},
			OutputScale: []float64{0.1},
			Hidden:      model.QuantizedParams{Threshold: []int32{15}, Bias: []int32{0}, DashMem: []int{1}, DashSyn: []int{0}},
			Output:      model.QuantizedParams{Threshold: []int32{5}, Bias: []int32{0}, DashMem: []int{0}, DashSyn: []int{0}},
			WeightBits:  8,
			Dt:          time.Millisecond,
		},
		Routing: model.Routing{InputChannels: 1, HiddenNeurons: 1, OutputChannels: 1},
		Timing:  model.Timing{Dt: time.Millisecond, MaxSpikesPerStep: maxSpikes, StateBits: stateBits},
		Valid:   true,
	}
}

func constantInput(steps, count int) []model.EventFrame {
	frames := make([]model.EventFrame, steps)
	for t := range frames {
		frames[t] = model.FrameFromCounts(t, []int{count})
	}
	return frames
}

type fakeBackend struct {
	mu     sync.Mutex
	loads  int
	steps  int
	resets int
	err    error
	result StepResult
	// delay holds each step open so overlapping calls can be observed.
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (f *fakeBackend) Load(context.Context, model.Configuration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeBackend) Step(context.Context, []model.EventFrame, StepOptions) (StepResult, error) {
	f.mu.Lock()
	f.steps++
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	delay := f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	return f.result, f.err
}

// cancelAfterContext reports cancellation from the after-th Err call on.
type cancelAfterContext struct {
	context.Context
	mu    sync.Mutex
	calls int
	after int
}

func newCancelAfterContext(after int) *cancelAfterContext {
	return &cancelAfterContext{Context: context.Background(), after: after}
}

func (c *cancelAfterContext) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls >= c.after {
		return context.Canceled
	}
	return nil
}

func (f *fakeBackend) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}
