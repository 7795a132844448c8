// Package stream owns the playback pipeline: a single live-stream player
// with a lazily built analysis tap that exposes frequency-domain data to
// the visual engine.
package stream

import (
	"math"
	"sync"
)

const (
	// DefaultBinCount is the number of frequency bands exposed to
	// consumers.
	DefaultBinCount = 32

	// analysisWindow is the FFT window length in mono samples. Power of
	// two.
	analysisWindow = 1024

	// peakDecay controls the auto-gain envelope: the running peak decays
	// slowly so band levels stay stable across loudness changes.
	peakDecay = 0.99
)

// Analyser converts raw playback samples into byte frequency bands
// (0-255). It sits inline in the playback chain and is fed from the audio
// goroutine; consumers read the latest bands from any goroutine.
type Analyser struct {
	mu     sync.Mutex
	bins   []byte
	window []float64
	filled int
	peak   float64

	// FFT scratch, reused every window
	re, im []float64
	hann   []float64
}

// NewAnalyser creates an analyser exposing binCount bands. Zero or
// negative falls back to DefaultBinCount.
func NewAnalyser(binCount int) *Analyser {
	if binCount <= 0 {
		binCount = DefaultBinCount
	}
	a := &Analyser{
		bins:   make([]byte, binCount),
		window: make([]float64, analysisWindow),
		peak:   1e-6,
		re:     make([]float64, analysisWindow),
		im:     make([]float64, analysisWindow),
		hann:   make([]float64, analysisWindow),
	}
	for i := range a.hann {
		a.hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(analysisWindow-1)))
	}
	return a
}

// BinCount returns the number of frequency bands.
func (a *Analyser) BinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bins)
}

// FrequencyData copies the latest bands into buf and returns the number
// of bands written. Values are unsigned bytes; consumers normalize by
// dividing by 255.
func (a *Analyser) FrequencyData(buf []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copy(buf, a.bins)
}

// Feed consumes n stereo samples from the playback chain. Samples are
// folded to mono and accumulated; each full window produces a fresh set
// of bands.
func (a *Analyser) Feed(samples [][2]float64, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < n; i++ {
		a.window[a.filled] = (samples[i][0] + samples[i][1]) * 0.5
		a.filled++
		if a.filled == len(a.window) {
			a.computeLocked()
			a.filled = 0
		}
	}
}

// Reset clears the bands, e.g. when playback stops and the idle state
// should decay immediately.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.bins {
		a.bins[i] = 0
	}
	a.filled = 0
}

// computeLocked runs the FFT over the accumulated window and folds the
// magnitude spectrum into the exposed bands. Caller holds the lock.
func (a *Analyser) computeLocked() {
	for i := range a.window {
		a.re[i] = a.window[i] * a.hann[i]
		a.im[i] = 0
	}
	fft(a.re, a.im)

	// Only the first half of the spectrum is meaningful; skip the DC bin.
	half := len(a.re) / 2
	binCount := len(a.bins)
	perBand := (half - 1) / binCount
	if perBand < 1 {
		perBand = 1
	}

	bands := make([]float64, binCount)
	frameMax := 0.0
	for b := 0; b < binCount; b++ {
		start := 1 + b*perBand
		end := start + perBand
		if end > half {
			end = half
		}
		sum := 0.0
		for k := start; k < end; k++ {
			sum += math.Hypot(a.re[k], a.im[k])
		}
		bands[b] = sum / float64(end-start)
		if bands[b] > frameMax {
			frameMax = bands[b]
		}
	}

	// Slow-decaying peak envelope keeps the byte scale stable without a
	// hard-coded gain.
	a.peak *= peakDecay
	if frameMax > a.peak {
		a.peak = frameMax
	}
	if a.peak < 1e-6 {
		a.peak = 1e-6
	}

	for b := 0; b < binCount; b++ {
		v := bands[b] / a.peak * 255
		if v > 255 {
			v = 255
		}
		a.bins[b] = byte(v)
	}
}

// fft is an in-place iterative radix-2 transform. len(re) must be a power
// of two.
func fft(re, im []float64) {
	n := len(re)

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe := math.Cos(angle)
		wIm := math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			for k := 0; k < length/2; k++ {
				evenRe := re[start+k]
				evenIm := im[start+k]
				oddRe := re[start+k+length/2]*curRe - im[start+k+length/2]*curIm
				oddIm := re[start+k+length/2]*curIm + im[start+k+length/2]*curRe
				re[start+k] = evenRe + oddRe
				im[start+k] = evenIm + oddIm
				re[start+k+length/2] = evenRe - oddRe
				im[start+k+length/2] = evenIm - oddIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}
