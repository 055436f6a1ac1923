// Package bdac implements the top-level orchestrator from spec.md
// ss4.9: the one place that drives a raw sample through the detector,
// waits for enough trailing samples to extract a full beat buffer,
// downsamples it to the beat rate, and hands it to the classifier,
// assembling the externally visible (samplesSinceRWave, beatType,
// beatMatch) result spec.md ss6 names.
//
// Grounded on the teacher's Analyzer.AnalyzeFileWithPath
// (pkg/analysis/analysis.go) -- the one place in the teacher that
// drives every sub-analyzer in sequence and assembles a single
// TrackAnalysis result; Analyzer.Analyze plays the same role here,
// per-sample instead of per-file.
package bdac

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/classify"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/detector"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/noise"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/ringbuf"
)

// beatBufferLength is BEAT_BUFFER_LENGTH (spec.md ss4.9): the raw
// sample ring buffer's length, large enough to hold one beat plus the
// detection delay at any rate in the spec's supported [150, 400] Hz
// range.
const beatBufferLength = 2000

// bradyLimitMS is BRADY_LIMIT (spec.md ss4.6 / Glossary), expressed in
// milliseconds and converted to detection-rate samples at
// construction, since rr intervals are measured at the detection
// rate throughout this pipeline.
const bradyLimitMS = 1500

// Result is the externally visible outcome of one Analyze call,
// mirroring the teacher's AnalyzeOut/QMResult style of returning a
// small named struct instead of bare values (SPEC_FULL.md ss4).
// SamplesSinceRWave == 0 means no beat was reported this sample
// (spec.md ss6).
type Result struct {
	SamplesSinceRWave int
	BeatType          ecg.BeatType
	BeatMatch         int
}

// IsBeat reports whether this Result carries a beat, the same small
// accessor-helper style as the teacher's AnalyzeOut.Bars().
func (r Result) IsBeat() bool { return r.SamplesSinceRWave != 0 }

// pendingBeat is one entry of the beat queue (spec.md ss3): a
// detection delay awaiting enough trailing samples to analyze, aged
// once per incoming sample.
type pendingBeat struct {
	delay int // the value detector.Detect returned when this entry was pushed
	age   int // samples elapsed since it was pushed
}

// Analyzer is the ss4.9 top-level orchestrator: createBDAC from
// spec.md ss6. Not safe for concurrent use; one Analyzer serves one
// sample stream, and per ss5 there is no reset path -- start a fresh
// Analyzer for a new record.
type Analyzer struct {
	dt    ecg.DetTiming
	bt    ecg.BeatTiming
	ratio int // DownsampleRatio: detection-rate samples per beat-rate sample

	det      *detector.Detector
	noiseEst *noise.Estimator
	cls      *classify.Classifier

	ring    *ringbuf.Int
	pending []pendingBeat

	// tailThreshold is (BEATLGTH - FIDMARK)*R_d/R_b, spec.md ss4.9
	// step 3: the queue head must be at least this many samples past
	// its R-wave before enough tail samples exist to copy a full beat
	// buffer.
	tailThreshold int

	sampleIdx int // monotonically increasing count of samples seen
	rrCount   int // RRCount, spec.md ss4.9 step 1

	hasPrevBeat       bool
	prevBeatEndAbsIdx int

	seenFirstBeat bool
}

// New constructs a BDAC analyzer: createBDAC(sampleRate, beatSampleRate)
// from spec.md ss6. beatHz of 0 defaults to detHz/2, the typical
// configuration spec.md ss3 describes.
func New(detHz, beatHz int) *Analyzer {
	rates := ecg.NewRates(detHz, beatHz)
	dt := ecg.NewDetTiming(rates)
	bt := ecg.NewBeatTiming(rates)
	ratio := rates.DownsampleRatio()

	return &Analyzer{
		dt:            dt,
		bt:            bt,
		ratio:         ratio,
		det:           detector.New(dt),
		noiseEst:      noise.New(dt),
		cls:           classify.New(rates, bt, rates.NDet(bradyLimitMS)),
		ring:          ringbuf.NewInt(beatBufferLength),
		tailThreshold: (bt.BeatLength - bt.FidMark) * ratio,
	}
}

// Analyze implements spec.md ss4.9: feed one raw sample through the
// detector, age the beat queue, and -- once the queue's head has
// accumulated enough trailing samples -- analyze and classify the
// beat it names. Returns a zero Result on every sample that does not
// complete a beat.
func (a *Analyzer) Analyze(sample int) Result {
	a.sampleIdx++
	a.ring.Push(sample)
	a.noiseEst.Sample(sample)
	a.rrCount++

	for i := range a.pending {
		a.pending[i].age++
	}
	if delay := a.det.Detect(sample); delay != 0 {
		a.pending = append(a.pending, pendingBeat{delay: delay})
	}

	if len(a.pending) == 0 {
		return Result{}
	}

	head := a.pending[0]
	ageTotal := head.age + head.delay
	if ageTotal < a.tailThreshold {
		return Result{}
	}
	a.pending = a.pending[1:]

	return a.processBeat(head.delay, ageTotal)
}

// processBeat implements the remainder of spec.md ss4.9 step 4: RR
// bookkeeping, the noise estimate, the beat buffer extraction and
// downsample, and the classifier call, assembled into the external
// Result (or suppressed on the Discard sentinel).
func (a *Analyzer) processBeat(headDelay, ageTotal int) Result {
	rr := a.rrCount - headDelay
	a.rrCount = headDelay

	beginOff, endOff := a.dt.MS250, a.dt.MS300
	if dom := a.cls.DominantType(); dom != ecg.NoMatch {
		g := a.cls.Bank().Template(dom).Geom
		beginOff = (a.bt.FidMark - g.BeatBegin) * a.ratio
		endOff = (g.BeatEnd - a.bt.FidMark) * a.ratio
	}

	curBeginAgo := ageTotal + beginOff
	noiseEst := 0
	if a.hasPrevBeat {
		prevEndAgo := a.sampleIdx - a.prevBeatEndAbsIdx
		noiseEst = a.noiseEst.BeatOccurred(prevEndAgo, curBeginAgo)
	}

	buf := a.extractBeatBuffer(ageTotal)
	label, fidAdj, beatMatch := a.cls.Classify(buf, rr, noiseEst)

	curEndAgo := ageTotal - endOff
	a.prevBeatEndAbsIdx = a.sampleIdx - curEndAgo
	a.hasPrevBeat = true

	if label == ecg.Discard {
		// spec.md ss4.9: suppress emission, fold this beat's rr back
		// into RRCount for the next beat -- since RRCount was just
		// reset to headDelay, adding rr back restores it to what it
		// would have been had this entry never been popped.
		a.rrCount += rr
		return Result{}
	}

	if !a.seenFirstBeat {
		a.seenFirstBeat = true
		label = ecg.Unknown
	}

	fidAdjDet := fidAdj * a.ratio
	if fidAdjDet > a.dt.MS80 {
		fidAdjDet = a.dt.MS80
	} else if fidAdjDet < -a.dt.MS80 {
		fidAdjDet = -a.dt.MS80
	}

	return Result{
		SamplesSinceRWave: headDelay - fidAdjDet,
		BeatType:          label,
		BeatMatch:         beatMatch,
	}
}

// extractBeatBuffer copies BEATLGTH*R_d/R_b raw samples preceding and
// following the R-wave (rWaveAgo samples before now) out of the ring
// and downsamples them by pair-averaging into a BEATLGTH-long
// beat-rate buffer with the R-wave at bt.FidMark, spec.md ss4.9 step 4.
func (a *Analyzer) extractBeatBuffer(rWaveAgo int) []int {
	n := a.bt.BeatLength * a.ratio
	scratch := make([]int, n)
	base := rWaveAgo + a.bt.FidMark*a.ratio
	for i := 0; i < n; i++ {
		scratch[i] = a.ring.Ago(base - i)
	}

	out := make([]int, a.bt.BeatLength)
	for k := 0; k < a.bt.BeatLength; k++ {
		sum := 0
		for j := 0; j < a.ratio; j++ {
			sum += scratch[k*a.ratio+j]
		}
		out[k] = sum / a.ratio
	}
	return out
}
