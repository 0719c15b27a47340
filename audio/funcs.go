package audio

import "time"

// FrameSamples is the number of interleaved samples in one frame.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// FrameDuration is the playback time of an encoded frame. Frames of the
// nominal size keep the nominal duration; others are measured from their
// sample count.
func FrameDuration(samples int, nominal time.Duration, rate, channels int) time.Duration {
	if samples == FrameSamples(nominal, rate, channels) || rate <= 0 || channels <= 0 {
		return nominal
	}
	return time.Duration(samples) * time.Second / time.Duration(rate*channels)
}
