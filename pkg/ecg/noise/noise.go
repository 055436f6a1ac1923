// Package noise implements the baseline noise estimator from
// spec.md ss4.3: a raw-sample ring buffer that reports the
// peak-to-peak amplitude between two beats, used by the classifier to
// discount noisy beats rather than to drive detection itself.
//
// Grounded on the teacher's GenerateWaveform peak/trough scan
// (pkg/analysis/analysis.go, pre-trim) — a fixed-size windowed
// max/min reduction over raw samples — generalized here from
// visualization pixels to the inter-beat noise window, and using
// gonum's reductions instead of hand-rolled loops now that the
// dependency is already in the module.
package noise

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/ringbuf"
	"gonum.org/v1/gonum/floats"
)

// Estimator maintains the last MS1500 raw samples and computes a
// noise level on demand.
type Estimator struct {
	ring  *ringbuf.Int
	ms250 int
}

// New constructs an Estimator from detection-rate timing constants.
func New(dt ecg.DetTiming) *Estimator {
	return &Estimator{
		ring:  ringbuf.NewInt(dt.MS1500),
		ms250: dt.MS250,
	}
}

// Sample records the newest raw sample.
func (e *Estimator) Sample(s int) {
	e.ring.Push(s)
}

// BeatOccurred computes noiseEst per spec.md ss4.3: the peak-to-peak
// magnitude of the ring's contents in the window between the end of
// the previous beat and the start of the current beat (or the most
// recent MS250 samples of that window, whichever is shorter),
// divided by the window length and scaled by 10.
//
// prevBeatEndAgo and curBeatStartAgo are expressed in samples before
// this call (curBeatStartAgo is necessarily the smaller of the two:
// the current beat is more recent). BeatOccurred returns 0 when the
// window is empty or negative (beats too close together).
func (e *Estimator) BeatOccurred(prevBeatEndAgo, curBeatStartAgo int) int {
	windowLen := prevBeatEndAgo - curBeatStartAgo
	if windowLen <= 0 {
		return 0
	}
	if windowLen > e.ms250 {
		windowLen = e.ms250
	}

	vals := make([]float64, windowLen)
	for i := 0; i < windowLen; i++ {
		vals[i] = float64(e.ring.Ago(curBeatStartAgo + i))
	}

	pp := floats.Max(vals) - floats.Min(vals)
	return int(pp * 10 / float64(windowLen))
}
