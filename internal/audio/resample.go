package audio

import "math"

// Downmix averages every channel into one mono channel.
// Channels are summed per sample index, each scaled by 1/channels.
func Downmix(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}

	n := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}

	mono := make([]float32, n)
	if len(channels) == 1 {
		copy(mono, channels[0][:n])
		return mono
	}

	count := float32(len(channels))
	for _, ch := range channels {
		for i := 0; i < n; i++ {
			mono[i] += ch[i] / count
		}
	}
	return mono
}

// ResampledLength returns the number of samples Resample produces
func ResampledLength(n, fromRate, toRate int) int {
	if n == 0 || fromRate == toRate {
		return n
	}
	out := int(math.Round(float64(n) * float64(toRate) / float64(fromRate)))
	if out < 1 {
		out = 1
	}
	return out
}

// Resample converts mono samples from fromRate to toRate with linear interpolation.
// When downsampling, a moving average over one source step is applied first to
// limit aliasing. The whole buffer is resampled at once so chunk boundaries never
// see interpolation edges.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if len(samples) == 0 || fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return samples
	}

	step := float64(fromRate) / float64(toRate)
	src := samples
	if step > 1 {
		src = boxFilter(samples, int(math.Ceil(step)))
	}

	out := make([]float32, ResampledLength(len(samples), fromRate, toRate))
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = src[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = src[j] + (src[j+1]-src[j])*frac
	}
	return out
}

// boxFilter is a centered moving average of the given width
func boxFilter(samples []float32, width int) []float32 {
	if width <= 1 {
		return samples
	}

	half := width / 2
	out := make([]float32, len(samples))
	var sum float64
	lo, hi := 0, 0 // window is samples[lo:hi]
	for i := range samples {
		wantLo := i - half
		if wantLo < 0 {
			wantLo = 0
		}
		wantHi := i + half + 1
		if wantHi > len(samples) {
			wantHi = len(samples)
		}
		for hi < wantHi {
			sum += float64(samples[hi])
			hi++
		}
		for lo < wantLo {
			sum -= float64(samples[lo])
			lo++
		}
		out[i] = float32(sum / float64(hi-lo))
	}
	return out
}
