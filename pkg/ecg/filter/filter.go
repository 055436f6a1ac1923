// Package filter implements the QRS filter cascade from spec.md ss4.1:
// a low-pass/high-pass/derivative/rectify/moving-window-integrator
// chain that turns a raw ECG sample stream into a QRS-enhanced
// detection signal, plus an independent derivative tap used by the
// detector's baseline-shift check.
//
// Grounded on the teacher's stateless-transform style in
// analyzer/stft.go (STFT/hannWindow: fixed-size window, no hidden
// state beyond what the transform itself needs) — here generalized to
// a cascade of streaming stages, each owning only the history it
// needs to recompute its own recursive definition.
package filter

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/ringbuf"
)

// Chain holds the private streaming state for every cascade stage. It
// is not safe for concurrent use; one Chain serves one sample stream
// (spec.md ss5: the core is single-threaded).
type Chain struct {
	lpLen, hpLen, derivLen, windowWidth int

	// stage 1: low-pass
	rawHist     *ringbuf.Int
	lpFeedback1 int // y[n-1], unscaled recursive accumulator
	lpFeedback2 int // y[n-2]

	// stage 2: high-pass (mean subtraction)
	hpInHist *ringbuf.Int // stage-1 output history
	hAccum   int          // running h[n]

	// stage 3: derivative (cascade tap, operates on stage-2 output)
	derivHist *ringbuf.Int

	// stage 5: moving-window integrator
	rectHist *ringbuf.Int
	rectSum  int

	// independent raw-signal derivative tap (spec.md ss4.1 "deriv1")
	raw1Hist *ringbuf.Int
}

// New constructs a filter chain from detection-rate timing constants.
func New(dt ecg.DetTiming) *Chain {
	lpLen := 2 * dt.MS25   // LPBUFFER_LGTH = L
	hpLen := dt.MS125      // HPBUFFER_LGTH = H
	derivLen := dt.MS10    // DERIV_LENGTH
	ww := dt.MS80          // WINDOW_WIDTH
	return &Chain{
		lpLen: lpLen, hpLen: hpLen, derivLen: derivLen, windowWidth: ww,
		rawHist:   ringbuf.NewInt(lpLen + 1),
		hpInHist:  ringbuf.NewInt(hpLen + 1),
		derivHist: ringbuf.NewInt(derivLen + 1),
		rectHist:  ringbuf.NewInt(max1(ww)),
		raw1Hist:  ringbuf.NewInt(derivLen + 1),
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Filter runs one raw sample through the full cascade and returns the
// QRS-enhanced detection signal (spec.md ss4.1 steps 1-5).
func (c *Chain) Filter(sample int) int {
	lp := c.lowPass(sample)
	hp := c.highPass(lp)
	d := c.derivative(hp)
	rect := abs(d)
	return c.integrate(rect)
}

// lowPass implements y[n] = 2y[n-1] - y[n-2] + x[n] - 2x[n-L/2] + x[n-L],
// scaled by L^2/4. The recursive feedback carries the unscaled
// accumulator (so rounding from the final divide never compounds
// across samples); the stage's reported output is the scaled value,
// matching the direction every downstream stage (and the tests in
// ss8 property 1) expects: zero input forever yields zero output.
func (c *Chain) lowPass(sample int) int {
	c.rawHist.Push(sample)
	halfL := c.lpLen / 2
	xN := c.rawHist.Ago(0)
	xHalf := c.rawHist.Ago(halfL)
	xFull := c.rawHist.Ago(c.lpLen)

	yRaw := 2*c.lpFeedback1 - c.lpFeedback2 + xN - 2*xHalf + xFull
	c.lpFeedback2 = c.lpFeedback1
	c.lpFeedback1 = yRaw

	denom := (c.lpLen * c.lpLen) / 4
	if denom == 0 {
		denom = 1
	}
	return yRaw / denom
}

// highPass implements h[n] = h[n-1] + x[n] - x[n-H]; output is
// x[n-H/2] - h[n]/H.
func (c *Chain) highPass(sample int) int {
	c.hpInHist.Push(sample)
	xN := c.hpInHist.Ago(0)
	xOld := c.hpInHist.Ago(c.hpLen)
	c.hAccum += xN - xOld

	xHalf := c.hpInHist.Ago(c.hpLen / 2)
	return xHalf - c.hAccum/c.hpLen
}

// derivative implements d[n] = x[n] - x[n - MS10] on the high-pass
// output (the cascade tap, distinct from Deriv1's raw-signal tap).
func (c *Chain) derivative(sample int) int {
	c.derivHist.Push(sample)
	return c.derivHist.Ago(0) - c.derivHist.Ago(c.derivLen)
}

// integrate implements the moving-window integrator: sum over the
// last WINDOW_WIDTH samples, divided by WINDOW_WIDTH, clipped to
// 32000. Rectified input is always non-negative, so only the upper
// bound can be hit.
func (c *Chain) integrate(rect int) int {
	evict := 0
	if c.rectHist.Len() == c.rectHist.Cap() {
		evict = c.rectHist.Ago(c.rectHist.Cap() - 1)
	}
	c.rectHist.Push(rect)
	c.rectSum += rect - evict

	out := c.rectSum / c.windowWidth
	if out > 32000 {
		out = 32000
	}
	return out
}

// Deriv1 computes x[n] - x[n-MS10] over the raw signal, independent
// of the cascade above, for the detector's baseline-shift check
// (spec.md ss4.2 step 6).
func (c *Chain) Deriv1(sample int) int {
	c.raw1Hist.Push(sample)
	return c.raw1Hist.Ago(0) - c.raw1Hist.Ago(c.derivLen)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Delay returns FILTER_DELAY (spec.md ss4.1): the combined detection
// delay of the cascade plus pre-blanking, in detection-rate samples.
func Delay(dt ecg.DetTiming) int {
	lpLen := 2 * dt.MS25
	hpLen := dt.MS125
	derivLen := dt.MS10
	preBlank := dt.MS195
	return derivLen/2 + lpLen/2 - 1 + (hpLen-1)/2 + preBlank
}

// DerDelay returns DER_DELAY (spec.md ss4.1): how much raw-derivative
// history the detector's baseline-shift check needs to keep.
func DerDelay(dt ecg.DetTiming) int {
	return dt.MS80 + Delay(dt) + dt.MS100
}
