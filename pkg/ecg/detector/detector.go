// Package detector implements the adaptive QRS detector from spec.md
// ss4.2: filter the stream, track slope-limited peaks, pre-blank
// near-simultaneous arrivals down to the single largest, then run an
// adaptive threshold (with noise tracking, baseline-shift rejection,
// search-back, and a stall-reset path) to decide which peaks are
// heartbeats.
//
// Grounded on the teacher's stateful streaming style in
// pkg/filter/*.go (each filter a struct owning exactly the history its
// own recurrence needs) generalized from audio DSP to the detector's
// own multi-stage adaptive state machine; the peak-tracking and
// pre-blank logic is grounded on the two-state ring-buffer pattern
// already established in pkg/ecg/ringbuf.
package detector

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/filter"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/ringbuf"
)

// th is TH from spec.md ss4.2, expressed as the exact fraction 5/16
// (0.3125) so the threshold update stays integer arithmetic.
const (
	minPeakAmp = 7
	thNum      = 5
	thDen      = 16
)

// Detector holds all per-stream QRS-detection state. Not safe for
// concurrent use; one Detector serves one sample stream.
type Detector struct {
	dt   ecg.DetTiming
	filt *filter.Chain

	derivRing *ringbuf.Int

	// stage 2: peak tracking
	curMax       int
	timeSinceMax int
	lastDatum    int

	// stage 4: pre-blanking
	held     bool
	heldPeak int
	heldAge  int

	// stage 5: 8-window initialization
	initDone      bool
	initBuf       [ecg.MaxTypes]int
	initFill      int
	initWinMax    int
	initWinLength int

	// steady-state adaptive threshold
	qrsbuf    [ecg.MaxTypes]int
	rrbuf     [ecg.MaxTypes]int
	nbuf      [ecg.MaxTypes]int
	qmean     int
	nmean     int
	rrmean    int
	sbcount   int
	detThresh int

	count int // samples since the last accepted QRS

	sbpeak int // search-back candidate magnitude
	sbloc  int // count value recorded when the candidate was seen

	// stage 10: stall-reset path
	windowsSinceDetection int
	windowHadDetection    bool
	releasedThisSample    int // peak released by preBlank this sample, 0 if none
	resetWinMax           int
	resetWinLength        int
	resetMaxes            [ecg.MaxTypes]int
	resetFill             int
}

// New constructs a Detector from detection-rate timing constants.
func New(dt ecg.DetTiming) *Detector {
	return &Detector{
		dt:        dt,
		filt:      filter.New(dt),
		derivRing: ringbuf.NewInt(filter.DerDelay(dt)),
		rrmean:    dt.MS1000,
		sbcount:   dt.MS1500 + dt.MS150,
	}
}

// Detect runs one raw sample through the filter cascade and the
// detection state machine. It returns 0 when no QRS is ready this
// call, or the number of samples elapsed between the R-wave estimate
// and the current sample once per detected QRS (spec.md ss4.2).
func (d *Detector) Detect(sample int) int {
	filtered := d.filt.Filter(sample)
	d.derivRing.Push(d.filt.Deriv1(sample))

	d.count++
	d.windowHadDetection = false
	d.releasedThisSample = 0

	delay := 0
	peak, _ := d.trackPeak(filtered)
	if newPeak, ready := d.preBlank(peak); ready {
		d.releasedThisSample = newPeak
		delay = d.admit(newPeak)
	}
	if sb := d.searchBack(); sb != 0 {
		delay = sb
	}
	d.tickResetWindow()

	return delay
}

// trackPeak implements spec.md ss4.2 step 2-3: track the running
// local maximum and emit it as a candidate peak once the signal falls
// back below half that maximum or stays at the peak too long, then
// reject candidates under MIN_PEAK_AMP.
func (d *Detector) trackPeak(filtered int) (int, bool) {
	if filtered > d.curMax && filtered > d.lastDatum {
		d.curMax = filtered
		d.timeSinceMax = 1
	} else if d.curMax > 0 {
		d.timeSinceMax++
	}
	d.lastDatum = filtered

	emitted := false
	peak := 0
	if d.curMax > 0 && (filtered < d.curMax/2 || d.timeSinceMax > d.dt.MS95) {
		peak = d.curMax
		emitted = true
		d.curMax = 0
		d.timeSinceMax = 0
	}
	if emitted && peak < minPeakAmp {
		return 0, false
	}
	return peak, emitted
}

// preBlank implements spec.md ss4.2 step 4: hold the largest arrival
// within a PRE_BLANK window and only release it once the window
// elapses without a larger candidate superseding it. Called once per
// sample; peak is 0 on samples that produced no candidate.
func (d *Detector) preBlank(peak int) (int, bool) {
	if !d.held {
		if peak == 0 {
			return 0, false
		}
		d.held = true
		d.heldPeak = peak
		d.heldAge = 0
		return 0, false
	}

	d.heldAge++
	if peak > d.heldPeak {
		d.heldPeak = peak
		d.heldAge = 0
	}
	if d.heldAge >= d.dt.MS195 {
		newPeak := d.heldPeak
		d.held = false
		return newPeak, true
	}
	return 0, false
}

// admit routes a released peak through initialization (first 8 peaks)
// or the steady-state accept/noise/search-back logic, and returns the
// delay to report for this call (0 if none).
func (d *Detector) admit(newPeak int) int {
	if !d.initDone {
		d.accumulateInit(newPeak)
		return 0
	}

	if !d.blsCheck() {
		return 0
	}
	if newPeak > d.detThresh {
		return d.acceptQRS(newPeak, d.count)
	}
	d.updateNoise(newPeak)
	if newPeak > d.sbpeak && d.count-d.dt.MS80 >= d.dt.MS360 {
		d.sbpeak = newPeak
		d.sbloc = d.count
	}
	return 0
}

// accumulateInit implements the gathering half of spec.md ss4.2 step
// 5: track the largest peak seen in the current 1000ms window.
// tickInitWindow closes each window and, after 8 of them, derives the
// initial qmean/nmean/rrmean/sbcount/det_thresh.
func (d *Detector) accumulateInit(peak int) {
	if peak > d.initWinMax {
		d.initWinMax = peak
	}
}

// tickInitWindow advances the initialization window clock; called
// once per sample from tickResetWindow's companion bookkeeping.
func (d *Detector) tickInitWindow() {
	d.initWinLength++
	if d.initWinLength < d.dt.MS1000 {
		return
	}

	d.initBuf[d.initFill] = d.initWinMax
	d.initFill++
	d.initWinMax = 0
	d.initWinLength = 0

	if d.initFill >= ecg.MaxTypes {
		d.qmean = mean(d.initBuf[:])
		d.nmean = 0
		d.rrmean = d.dt.MS1000
		d.sbcount = d.dt.MS1500 + d.dt.MS150
		d.detThresh = thresh(d.qmean, d.nmean)
		d.initDone = true
	}
}

// acceptQRS implements spec.md ss4.2 step 7: commit a QRS at the
// given count value, updating the running amplitude/RR statistics and
// resetting the dead-zone counter.
func (d *Detector) acceptQRS(peak, atCount int) int {
	shiftPush(&d.qrsbuf, peak)
	d.qmean = mean(d.qrsbuf[:])

	rr := atCount - d.dt.MS80
	shiftPush(&d.rrbuf, rr)
	d.rrmean = mean(d.rrbuf[:])

	d.sbcount = d.rrmean + d.rrmean/2 + d.dt.MS80
	d.sbpeak = 0
	d.sbloc = 0
	d.windowHadDetection = true
	d.windowsSinceDetection = 0

	lag := d.count - atCount
	d.count = d.dt.MS80 + lag
	return d.dt.MS80 + filter.Delay(d.dt) + lag
}

// updateNoise implements spec.md ss4.2 step 8's noise-side update:
// fold a sub-threshold, BLS-accepted peak into the noise buffer and
// recompute the adaptive threshold from it.
func (d *Detector) updateNoise(peak int) {
	shiftPush(&d.nbuf, peak)
	d.nmean = mean(d.nbuf[:])
	d.detThresh = thresh(d.qmean, d.nmean)
}

// searchBack implements spec.md ss4.2 step 9: once the dead time since
// the last accepted QRS exceeds sbcount, and a stored sub-threshold
// candidate exceeds half of det_thresh, accept it retroactively.
func (d *Detector) searchBack() int {
	if d.count <= d.sbcount || d.sbpeak <= d.detThresh/2 {
		return 0
	}
	peak, atCount := d.sbpeak, d.sbloc
	return d.acceptQRS(peak, atCount)
}

// blsCheck implements spec.md ss4.2 step 6: reject a candidate as a
// baseline shift unless the raw derivative's largest positive and
// largest negative excursions are comparable in size and close
// together in time. The scan covers MS220 samples starting at the
// oldest end of the DER_DELAY-long derivative history, the stretch
// that still holds the QRS by the time pre-blanking releases its peak.
func (d *Detector) blsCheck() bool {
	n := d.dt.MS220
	if n > d.derivRing.Cap() {
		n = d.derivRing.Cap()
	}
	oldest := d.derivRing.Cap() - 1

	maxVal, minVal := 0, 0
	maxPos, minPos := 0, 0
	for i := 0; i < n; i++ {
		v := d.derivRing.Ago(oldest - i)
		if v > maxVal {
			maxVal = v
			maxPos = i
		}
		if -v > minVal {
			minVal = -v
			minPos = i
		}
	}
	if maxVal == 0 || minVal == 0 {
		return false
	}

	argDiff := maxPos - minPos
	if argDiff < 0 {
		argDiff = -argDiff
	}
	return maxVal > minVal/8 && minVal > maxVal/8 && argDiff < d.dt.MS150
}

// tickResetWindow implements spec.md ss4.2 step 10: if 8 consecutive
// 1-second windows pass with no accepted QRS, rebuild qmean from the
// per-window maxima seen during the stall and reset the adaptive
// state. It also advances the initialization window clock, since both
// run on the same 1000ms cadence.
func (d *Detector) tickResetWindow() {
	if !d.initDone {
		d.tickInitWindow()
		return
	}

	if d.releasedThisSample > d.resetWinMax {
		d.resetWinMax = d.releasedThisSample
	}
	d.resetWinLength++
	if d.resetWinLength < d.dt.MS1000 {
		return
	}

	d.resetMaxes[d.resetFill%ecg.MaxTypes] = d.resetWinMax
	d.resetFill++
	if !d.windowHadDetection {
		d.windowsSinceDetection++
	} else {
		d.windowsSinceDetection = 0
	}
	d.resetWinMax = 0
	d.resetWinLength = 0

	if d.windowsSinceDetection >= ecg.MaxTypes {
		d.qmean = mean(d.resetMaxes[:])
		d.nmean = 0
		d.detThresh = thresh(d.qmean, d.nmean)
		d.sbcount = d.dt.MS1500 + d.dt.MS150
		d.windowsSinceDetection = 0
	}
}

// thresh computes det_thresh = nmean + TH*(qmean-nmean) with
// TH = 0.3125 = 5/16, spec.md ss4.2 step 5.
func thresh(qmean, nmean int) int {
	return nmean + (qmean-nmean)*thNum/thDen
}

// mean truncates like the rest of this package's integer arithmetic.
func mean(buf []int) int {
	sum := 0
	for _, v := range buf {
		sum += v
	}
	return sum / len(buf)
}

// shiftPush shifts buf right by one (dropping the oldest, highest
// index) and writes v into index 0, the "shift qrsbuf right by one,
// push newPeak" operation spec.md ss4.2 step 7 names for qrsbuf,
// rrbuf, and the noise buffer alike.
func shiftPush(buf *[ecg.MaxTypes]int, v int) {
	for i := len(buf) - 1; i > 0; i-- {
		buf[i] = buf[i-1]
	}
	buf[0] = v
}
