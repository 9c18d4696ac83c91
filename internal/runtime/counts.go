package runtime

import "spikedeploy/internal/model"

// SpikeCounts totals spikes per channel over frames. Events on channels
// outside [0, channels) are ignored.
func SpikeCounts(frames []model.EventFrame, channels int) []int {
	counts := make([]int, channels)
	for _, frame := range frames {
		for _, ev := range frame.Events {
			if ev.Channel >= 0 && ev.Channel < channels {
				counts[ev.Channel] += ev.Count
			}
		}
	}
	return counts
}

// Argmax returns the index of the largest value, the lowest index on ties,
// and -1 for an empty slice.
func Argmax(values []int) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
