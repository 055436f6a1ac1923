// Package classify implements the central rule engine from spec.md
// ss4.8: the orchestrator that owns the template bank, rhythm
// checker, and post-classifier, runs each incoming beat buffer through
// noise/rhythm/geometry analysis, decides whether the beat matches an
// existing morphology or starts a new one, maintains the dominant-beat
// monitor, and finally runs the 20-rule cascade (with a run-length
// fallback) to produce a NORMAL/PVC/UNKNOWN verdict.
//
// Grounded on the teacher's Analyzer struct in pkg/analysis/analysis.go
// — one orchestrator owning several sub-analyzers, calling each in
// sequence and merging results into one output — generalized here to
// own template.Bank, rhythm.Checker, and postclass.Bank instead of
// mlPython/tfGo/cue.
package classify

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/beatgeom"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/postclass"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/rhythm"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/template"
	"gonum.org/v1/gonum/stat"
)

const (
	blShiftLimit         = 100
	matchNoiseThreshold  = 0.7
	pvcMatchWithAmpLimit = 0.9
	matchLimit           = 1.3
	matchWithAmpLimit    = 2.5
	lowNoiseLevelLimit   = 14
	lowHFNoiseLimit      = 45
	hfNoiseNormalLimit   = 75
	domIndexEpsilon      = 0.01

	// irregRRLimitMS is IRREG_RR_LIMIT (spec.md ss4.8 step 9), in ms.
	irregRRLimitMS = 60
	// prLikeLimitMS approximates a normal P-R interval: an RR this
	// short cannot be a real beat-to-beat interval and is treated as
	// "looks like P-R" by the dominant monitor's normality flag
	// (spec.md ss4.8 step 9). No original source survived retrieval to
	// pin an exact value (SPEC_FULL.md ss0).
	prLikeLimitMS = 180
)

// aveLength is AVELENGTH, the OSEA second-difference scaling constant
// named but not given an exact value in spec.md ss4.8 step 1. No
// original source survived retrieval to pin it (SPEC_FULL.md ss0), so
// it is fixed here at the QRS-window half-width in beat-rate samples,
// keeping hfNoise a rate-derived quantity like every other threshold
// in this package rather than an unexplained magic number.
func aveLength(bt ecg.BeatTiming) int {
	if bt.MS80 == 0 {
		return 1
	}
	return bt.MS80
}

// Classifier is the ss4.8 orchestrator. Not safe for concurrent use.
type Classifier struct {
	bt ecg.BeatTiming

	bank      *template.Bank
	rhythmChk *rhythm.Checker
	post      *postclass.Bank
	dm        *dominantMonitor

	// irregRRLimit and prLikeLimit are IRREG_RR_LIMIT and the "looks
	// like a P-R interval" threshold, both named in spec.md ss4.8 step
	// 9 against rr values measured at the detection rate (spec.md
	// ss4.6's rhythm.Checker doc comment); derived once at
	// construction from the detection-rate Rates rather than hung off
	// BeatTiming, which rr is not expressed in.
	irregRRLimit int
	prLikeLimit  int

	lastIsoLevel        int
	lastRhythmClass     ecg.BeatType
	prevWasNewUnderNorm bool
	prevRR              int
	lastIrregular       bool

	recentRRs   [2]int
	recentTypes [3]int
	lastMI2     float64
	lastRC      ecg.BeatType

	streakType int
	streakLen  int
}

// New constructs a Classifier. rates is the detection/beat rate bundle
// every component in the pipeline shares; bt is the beat-rate timing
// derived from it, and bradyLimit is BRADY_LIMIT (spec.md ss4.6) at
// the detection rate RR intervals are measured in.
func New(rates ecg.Rates, bt ecg.BeatTiming, bradyLimit int) *Classifier {
	bank := template.New()
	dm := newDominantMonitor()
	bank.OnEvict = func(slot int) { dm.retire(slot) }
	bank.OnMerge = func(survivor, absorbed int) {
		before := bank.TypeCount()
		dm.combine(survivor, absorbed)
		for s := absorbed + 1; s < before; s++ {
			dm.shiftDown(s)
		}
	}
	bank.OnClearLastNew = func(slot, typeCountBefore int) {
		dm.retire(slot)
		for s := slot + 1; s < typeCountBefore; s++ {
			dm.shiftDown(s)
		}
	}

	return &Classifier{
		bt:           bt,
		bank:         bank,
		rhythmChk:    rhythm.New(bradyLimit),
		post:         postclass.New(),
		dm:           dm,
		irregRRLimit: rates.NDet(irregRRLimitMS),
		prLikeLimit:  rates.NDet(prLikeLimitMS),
		recentTypes:  [3]int{ecg.NoMatch, ecg.NoMatch, ecg.NoMatch},
	}
}

// Bank exposes the underlying template bank so bdac.Analyzer can query
// the dominant template's beatBegin/beatEnd for the next sample copy.
func (c *Classifier) Bank() *template.Bank { return c.bank }

// DominantType exposes the dominant-monitor-refined dominant type so
// bdac.Analyzer can look up its begin/end anchors.
func (c *Classifier) DominantType() int {
	return c.dm.dominantType(c.bank.TypeCount())
}

// Classify implements spec.md ss4.8: given one beat buffer (beat-rate
// samples, R-wave near bt.FidMark, isoLevel not yet subtracted), the
// RR interval ending at this beat, and the noise estimator's reading
// for it, returns the beat's label, fidAdj (the matched template's
// fiducial-mark correction, in beat-rate samples, for bdac.Analyzer to
// fold into samplesSinceRWave), and beatMatch (the matched template
// slot, or ecg.NoMatch).
func (c *Classifier) Classify(buf []int, rr, noiseLevel int) (label ecg.BeatType, fidAdj, beatMatch int) {
	hf := computeHFNoise(buf, c.bt)
	rhythmClass := c.rhythmChk.Classify(rr)

	geom := beatgeom.Analyze(buf, c.bt)
	blShift := abs(geom.IsoLevel - c.lastIsoLevel)
	if blShift > blShiftLimit && c.prevWasNewUnderNorm {
		c.bank.ClearLastNewType()
	}
	c.prevWasNewUnderNorm = false

	adjusted := make([]int, len(buf))
	for i, v := range buf {
		adjusted[i] = v - geom.IsoLevel
	}

	matchType, matchIndex, mi2, shift := c.bank.BestMatch(adjusted, c.bt)
	if matchIndex < matchNoiseThreshold {
		hf, noiseLevel, blShift = 0, 0, 0
	}

	premature := rrShort(rr, c.prevRR)
	irregular := c.prevRR > 0 && !rrMatch(rr, c.prevRR) && abs(rr-c.prevRR) > c.irregRRLimit
	isNewType := false

	switch {
	case premature && matchType != ecg.NoMatch && c.bank.MinimumBeatVariation(matchType) && mi2 > pvcMatchWithAmpLimit:
		matchType = c.bank.NewBeatType(adjusted, ecg.Unknown, c.bt)
		isNewType = true
	case matchType != ecg.NoMatch && matchIndex < matchLimit && mi2 <= matchWithAmpLimit:
		c.bank.UpdateBeatType(matchType, adjusted, mi2, shift, c.bt)
	case noiseLevel < lowNoiseLevelLimit && blShift < blShiftLimit:
		matchType = c.bank.NewBeatType(adjusted, ecg.Unknown, c.bt)
		isNewType = true
	case irregular || c.lastIrregular:
		matchType = c.bank.NewBeatType(adjusted, ecg.Unknown, c.bt)
		isNewType = true
	default:
		matchType = ecg.NoMatch
	}
	c.lastIrregular = irregular

	if isNewType && rhythmClass == ecg.Normal {
		c.prevWasNewUnderNorm = true
	}

	// step 7: shift history, building this call's postclass.Input from
	// the pre-shift values (spec.md ss4.7's documented field meanings).
	post := postclass.Input{
		RecentTypes: [3]int{matchType, c.recentTypes[0], c.recentTypes[1]},
		RecentRRs:   [2]int{c.prevRR, rr},
		RhythmClass: rhythmClass,
		LastMI2:     c.lastMI2,
		LastRC:      c.lastRC,
	}
	c.recentTypes[2] = c.recentTypes[1]
	c.recentTypes[1] = c.recentTypes[0]
	c.recentTypes[0] = matchType
	c.recentRRs[1] = c.recentRRs[0]
	c.recentRRs[0] = rr
	c.prevRR = rr
	c.lastRhythmClass = rhythmClass
	c.lastIsoLevel = geom.IsoLevel

	// step 8: beat width / fidAdj from the matched template, or from
	// this beat's own geometry when unmatched.
	useGeom := geom
	matchedCount := 0
	if matchType != ecg.NoMatch {
		t := c.bank.Template(matchType)
		useGeom = t.Geom
		matchedCount = t.Count
	}
	beatWidth := useGeom.Width()
	fidAdj = useGeom.Center - c.bt.FidMark
	if fidAdj > c.bt.MS80 {
		fidAdj = c.bt.MS80
	} else if fidAdj < -c.bt.MS80 {
		fidAdj = -c.bt.MS80
	}

	// step 9: dominant monitor.
	domType := c.dm.dominantType(c.bank.TypeCount())
	priorSameType := matchType != ecg.NoMatch && matchedCount > 1
	prLike := rr < c.prLikeLimit
	normalFlag := (rhythmClass == ecg.Normal && beatWidth < c.bt.MS130 && priorSameType) ||
		(prLike && c.recentTypes[1] == matchType)
	if matchType != ecg.NoMatch {
		c.dm.push(matchType, normalFlag, rhythmClass)
	}
	c.dm.relabelInconsistentNormals(c.bank)
	domType = c.dm.dominantType(c.bank.TypeCount())

	// step 10: post-classifier retrospective relabel.
	post.DomType = domType
	post.Width = beatWidth
	post.MI2 = mi2
	c.post.Relabel(post)
	c.lastMI2 = mi2
	c.lastRC = rhythmClass

	domWidth := 0
	domRegular := c.lastRhythmClass == ecg.Normal && !c.rhythmChk.IsBigeminy()
	domWideVariation := false
	domIndexVal := 1.0
	if domType != ecg.NoMatch {
		domWidth = c.bank.Template(domType).Geom.Width()
		domWideVariation = c.bank.WideBeatVariation(domType)
		if domType == matchType {
			domIndexVal = 1.0
		} else {
			base := matchIndex
			if base < domIndexEpsilon {
				base = domIndexEpsilon
			}
			domMetric := c.bank.CompareTo(domType, adjusted, c.bt)
			domIndexVal = domMetric / base
		}
	}

	postRhythm := ecg.Unknown
	postClassPVC := false
	if matchType != ecg.NoMatch {
		postRhythm = c.post.CheckPCRhythm(matchType)
		postClassPVC = c.post.CheckPostClass(matchType) == ecg.PVC
	}

	verdict := c.cascade(cascadeInput{
		domType:          domType,
		domExists:        domType != ecg.NoMatch,
		domRegular:       domRegular,
		domWideVariation: domWideVariation,
		domIndex:         domIndexVal,
		domWidth:         domWidth,
		premature:        premature,
		beatWidth:        beatWidth,
		unmatched:        matchType == ecg.NoMatch,
		bankFull:         c.bank.TypeCount() == ecg.MaxTypes,
		singleOccurrence: matchedCount <= 1,
		rhythmUnknown:    rhythmClass == ecg.Unknown,
		rhythmClass:      rhythmClass,
		hfNoise:          hf,
		noiseLevel:       noiseLevel,
		blShift:          blShift,
		matchedCount:     matchedCount,
		postRhythm:       postRhythm,
	})

	if matchType != ecg.NoMatch {
		settled := c.runLengthSettle(matchType, verdict, beatWidth, domWidth, domType != ecg.NoMatch, rhythmClass, premature)
		if persistent := c.bank.Template(matchType).Class; persistent != ecg.Unknown {
			return persistent, fidAdj, matchType
		}
		if settled != ecg.Unknown {
			return settled, fidAdj, matchType
		}
		if postClassPVC {
			return ecg.PVC, fidAdj, matchType
		}
	}
	return verdict, fidAdj, matchType
}

// runLengthSettle implements spec.md ss4.8 step 12: when the matched
// template still carries no persistent classification, look for a
// consistent run of recent beats of the same type (or a bigeminy /
// plain-NORMAL-rhythm shortcut) to settle one now.
func (c *Classifier) runLengthSettle(matchType int, verdict ecg.BeatType, beatWidth, domWidth int, domExists bool, rhythmClass ecg.BeatType, premature bool) ecg.BeatType {
	if c.bank.Template(matchType).Class != ecg.Unknown {
		return c.bank.Template(matchType).Class
	}

	if matchType == c.streakType {
		c.streakLen++
	} else {
		c.streakType = matchType
		c.streakLen = 1
	}

	settled := ecg.Unknown
	switch {
	case c.streakLen >= 3 && beatWidth < domWidth+c.bt.MS20 && domExists:
		settled = ecg.Normal
	case c.streakLen >= 6 && !domExists:
		settled = ecg.Normal
	case c.rhythmChk.IsBigeminy() && rhythmClass == ecg.PVC && premature && beatWidth > c.bt.MS100:
		settled = ecg.PVC
	case rhythmClass == ecg.Normal:
		settled = ecg.Normal
	}
	if settled != ecg.Unknown {
		c.bank.SetClass(matchType, settled)
	}
	return settled
}

// cascadeInput bundles every value the ss4.8 rule table reads.
type cascadeInput struct {
	domType          int
	domExists        bool
	domRegular       bool
	domWideVariation bool
	domIndex         float64
	domWidth         int
	premature        bool
	beatWidth        int
	unmatched        bool
	bankFull         bool
	singleOccurrence bool
	rhythmUnknown    bool
	rhythmClass      ecg.BeatType
	hfNoise          int
	noiseLevel       int
	blShift          int
	matchedCount     int
	postRhythm       ecg.BeatType
}

// cascade implements the spec.md ss4.8 rule table verbatim, short-
// circuiting top to bottom. Rule numbers match the spec table exactly
// (4 and 13 are not in the distilled table and are not implemented).
func (c *Classifier) cascade(in cascadeInput) ecg.BeatType {
	bt := c.bt
	switch {
	case !in.domExists: // 1
		return ecg.Unknown
	case in.domExists && !in.domWideVariation && in.premature && in.domIndex > 1.0 && in.domRegular: // 2
		return ecg.PVC
	case in.beatWidth < bt.MS90: // 3
		return ecg.Normal
	case in.unmatched && !in.premature: // 5
		return ecg.Normal
	case in.bankFull && in.singleOccurrence && in.rhythmUnknown: // 6
		return ecg.Normal
	case in.domIndex < 1.2 && in.rhythmClass == ecg.Normal: // 7
		return ecg.Normal
	case in.domIndex < 1.5 && in.postRhythm == ecg.Normal: // 8
		return ecg.Normal
	case in.domIndex < 2.0 && !in.premature && in.domWideVariation: // 9
		return ecg.Normal
	case in.domIndex > 2.5 && in.matchedCount >= 3 && in.postRhythm == ecg.PVC && in.domRegular: // 10
		return ecg.PVC
	case rule11(in, bt): // 11
		return ecg.PVC
	case in.premature && in.domRegular: // 12
		return ecg.PVC
	case in.rhythmClass == ecg.Normal && in.domRegular: // 14
		return ecg.Normal
	case in.beatWidth > in.domWidth && in.domIndex > 3.5 && in.beatWidth >= bt.MS100: // 15
		return ecg.PVC
	case in.beatWidth < bt.MS100: // 16
		return ecg.Normal
	case in.beatWidth < in.domWidth+bt.MS20: // 17
		return ecg.Normal
	case in.domIndex < 1.5: // 18
		return ecg.Normal
	case in.hfNoise > hfNoiseNormalLimit: // 19
		return ecg.Normal
	default: // 20
		return ecg.PVC
	}
}

// rule11 implements the width predicate spec.md ss4.8 gives explicitly
// below the rule table.
func rule11(in cascadeInput, bt ecg.BeatTiming) bool {
	if in.matchedCount <= 1 {
		return false
	}
	if in.beatWidth < bt.MS110 {
		return false
	}
	widerMargin := (in.beatWidth-in.domWidth >= bt.MS40 && in.domWidth < bt.MS140) ||
		in.beatWidth-in.domWidth >= bt.MS60
	if !widerMargin {
		return false
	}
	return in.hfNoise < lowHFNoiseLimit && in.noiseLevel < lowNoiseLevelLimit && in.blShift < blShiftLimit
}

// computeHFNoise implements spec.md ss4.8 step 1: a 5-sample moving
// average of the second-difference |x[n]-2x[n-MS10]+x[n-2*MS10]| over
// a fixed QRS window around the fiducial mark, expressed as a ratio to
// the window's own peak-to-peak amplitude and scaled by 50/AVELENGTH.
func computeHFNoise(buf []int, bt ecg.BeatTiming) int {
	step := bt.MS10
	if step < 1 {
		step = 1
	}
	lo := bt.FidMark - bt.MS80
	hi := bt.FidMark + bt.MS80
	if lo < 2*step {
		lo = 2 * step
	}
	if hi > len(buf) {
		hi = len(buf)
	}
	if hi <= lo {
		return 0
	}

	diffs := make([]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		d := buf[i] - 2*buf[i-step] + buf[i-2*step]
		diffs = append(diffs, float64(abs(d)))
	}
	avg := movingAverage(diffs, 5)
	if len(avg) == 0 {
		return 0
	}
	mean := stat.Mean(avg, nil)

	amp := float64(peakToPeak(buf, bt.FidMark-bt.MS80, bt.FidMark+bt.MS80))
	if amp == 0 {
		amp = 1
	}
	return int(mean / amp * 50.0 / float64(aveLength(bt)))
}

func movingAverage(xs []float64, window int) []float64 {
	if len(xs) < window {
		return nil
	}
	out := make([]float64, len(xs)-window+1)
	sum := 0.0
	for i := 0; i < window; i++ {
		sum += xs[i]
	}
	out[0] = sum / float64(window)
	for i := window; i < len(xs); i++ {
		sum += xs[i] - xs[i-window]
		out[i-window+1] = sum / float64(window)
	}
	return out
}

func peakToPeak(buf []int, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi > len(buf) {
		hi = len(buf)
	}
	if hi <= lo {
		return 0
	}
	mn, mx := buf[lo], buf[lo]
	for i := lo + 1; i < hi; i++ {
		if buf[i] < mn {
			mn = buf[i]
		}
		if buf[i] > mx {
			mx = buf[i]
		}
	}
	return mx - mn
}

// rrMatch/rrShort mirror the rhythm package's predicates (spec.md
// ss4.6): duplicated rather than imported because they operate on
// plain RR ints the classifier already has in scope and rhythm does
// not export them (they are intentionally package-private state-
// machine helpers there, not a shared utility).
func rrMatch(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < (a+b)/8
}

func rrShort(a, b int) bool {
	if b <= 0 {
		return false
	}
	return a < b-b/4
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
