package model

import "sort"

type ChannelCount struct {
	Channel int `json:"channel"`
	Count   int `json:"count"`
}

// EventFrame is the set of spike counts on one timestep. Channels with a zero
// count are omitted.
type EventFrame struct {
	Timestep int            `json:"timestep"`
	Events   []ChannelCount `json:"events,omitempty"`
}

func (f EventFrame) Empty() bool {
	return len(f.Events) == 0
}

// Count returns the count on channel, zero if absent.
func (f EventFrame) Count(channel int) int {
	total := 0
	for _, ev := range f.Events {
		if ev.Channel == channel {
			total += ev.Count
		}
	}
	return total
}

// Dense expands the frame into a per-channel slice. Events on channels outside
// [0, channels) are ignored.
func (f EventFrame) Dense(channels int) []int {
	out := make([]int, channels)
	for _, ev := range f.Events {
		if ev.Channel < 0 || ev.Channel >= channels {
			continue
		}
		out[ev.Channel] += ev.Count
	}
	return out
}

// FrameFromCounts builds a sparse frame from dense per-channel counts.
func FrameFromCounts(timestep int, counts []int) EventFrame {
	frame := EventFrame{Timestep: timestep}
	for ch, n := range counts {
		if n != 0 {
			frame.Events = append(frame.Events, ChannelCount{Channel: ch, Count: n})
		}
	}
	return frame
}

// FramesFromRaster converts a [timestep][channel] count raster into frames
// numbered from zero.
func FramesFromRaster(raster [][]int) []EventFrame {
	frames := make([]EventFrame, len(raster))
	for t, row := range raster {
		frames[t] = FrameFromCounts(t, row)
	}
	return frames
}

// SortEvents orders events by channel.
func (f EventFrame) SortEvents() {
	sort.Slice(f.Events, func(i, j int) bool { return f.Events[i].Channel < f.Events[j].Channel })
}

func CloneFrames(frames []EventFrame) []EventFrame {
	out := make([]EventFrame, len(frames))
	for i, frame := range frames {
		out[i] = EventFrame{Timestep: frame.Timestep, Events: append([]ChannelCount(nil), frame.Events...)}
	}
	return out
}
