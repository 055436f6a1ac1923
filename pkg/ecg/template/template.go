// Package template implements the beat template bank from spec.md
// ss4.5: up to MAXTYPES morphology templates, matched against each new
// beat by a scaled and an unscaled residual metric, merged on
// near-collision, evicted on overflow, and queried for a dominant type
// and variation predicates.
//
// Grounded on the teacher's QMResult/Analysis shape (a slice of
// comparable candidates, each carrying its own confidence metric,
// picked by minimum distance) generalized here from "compare two
// spectra" to "compare two beat shapes."
package template

import (
	"math"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/beatgeom"
	"gonum.org/v1/gonum/stat"
)

const (
	matchLimit    = 1.2
	combineLimit  = 0.8
	wideVarLimit  = 0.50
	minVarLimit   = 0.5
	lastMI2Weight = 2.5
)

// Template is one stored beat morphology plus the features §4.4
// computes over it and the bookkeeping §4.5 needs to match, blend,
// and retire it.
type Template struct {
	Samples []int
	Count   int

	Geom beatgeom.Result // width/center are Offset-Onset and their midpoint

	Class     ecg.BeatType
	Staleness int // updates of other templates since this one last matched

	MIs     [8]float64
	MIFill  int
}

// Bank owns up to MaxTypes templates and the total beat count needed
// for dominantType's count-based fallback.
type Bank struct {
	templates  [ecg.MaxTypes]Template
	typeCount  int
	totalBeats int

	lastNewSlot int
	hasLastNew  bool

	// OnEvict is invoked with a slot retired by eviction so the
	// dominant monitor can retire its own history for that slot
	// (spec.md ss4.5's adjustDomData).
	OnEvict func(slot int)
	// OnMerge is invoked when two templates merge, naming the slot
	// that absorbed the other (combineDomData).
	OnMerge func(survivor, absorbed int)
	// OnClearLastNew is invoked when ClearLastNewType undoes the most
	// recent insertion, naming the retired slot and the type count
	// (including that slot) at the time of the undo, so a caller can
	// retire and then shift down its own per-slot history exactly the
	// way the bank shifts its own templates.
	OnClearLastNew func(slot, typeCountBefore int)
}

// New constructs an empty template bank.
func New() *Bank {
	return &Bank{}
}

// TypeCount returns how many template slots are currently in use.
func (b *Bank) TypeCount() int { return b.typeCount }

// Template returns a copy of the template stored at slot.
func (b *Bank) Template(slot int) Template { return b.templates[slot] }

// BestMatch implements spec.md ss4.5's bestMatch: compare newBeat
// against every stored template, merging near-duplicate templates when
// the top two matches are both good and close to each other, and
// return the winning slot, the scaled residual metric against the
// winner (matchIndex, the value the classifier's MATCH_LIMIT and
// MATCH_NOISE_THRESHOLD rules compare against), the unscaled residual
// metric against the winner (mi2), and the shift that produced the
// best scaled match.
func (b *Bank) BestMatch(newBeat []int, bt ecg.BeatTiming) (matchType int, matchIndex, mi2 float64, shift int) {
	if b.typeCount == 0 {
		return ecg.NoMatch, math.MaxFloat64, 0, 0
	}

	bestSlot, secondSlot := ecg.NoMatch, ecg.NoMatch
	bestMetric, secondMetric := math.MaxFloat64, math.MaxFloat64
	bestShift := 0

	for i := 0; i < b.typeCount; i++ {
		m, sh := b.compareBest(b.templates[i].Samples, newBeat, bt, true)
		if m < bestMetric {
			secondSlot, secondMetric = bestSlot, bestMetric
			bestSlot, bestMetric, bestShift = i, m, sh
		} else if m < secondMetric {
			secondSlot, secondMetric = i, m
		}
	}

	if secondSlot != ecg.NoMatch && bestMetric < matchLimit && secondMetric < matchLimit {
		m1, _ := b.compareBest(b.templates[bestSlot].Samples, newBeat, bt, false)
		m2, _ := b.compareBest(b.templates[secondSlot].Samples, newBeat, bt, false)
		if m2 < m1 {
			bestSlot, secondSlot = secondSlot, bestSlot
			bestMetric, bestShift = b.compareBest(b.templates[bestSlot].Samples, newBeat, bt, true)
		}

		interMetric, _ := b.compareBest(b.templates[bestSlot].Samples, b.templates[secondSlot].Samples, bt, false)
		if interMetric < combineLimit && (b.MinimumBeatVariation(bestSlot) || b.MinimumBeatVariation(secondSlot)) {
			bestSlot = b.merge(bestSlot, secondSlot, bt)
			bestMetric, bestShift = b.compareBest(b.templates[bestSlot].Samples, newBeat, bt, true)
		}
	}

	mi2, _ = b.compareBest(b.templates[bestSlot].Samples, newBeat, bt, false)
	return bestSlot, bestMetric, mi2, bestShift
}

// compareBest scans every shift in [-MAX_SHIFT, MAX_SHIFT] and returns
// the smallest residual metric found and the shift that produced it.
// scale selects compare (peak-to-peak scaled) vs compare2 (unscaled).
func (b *Bank) compareBest(a, beat []int, bt ecg.BeatTiming, scale bool) (float64, int) {
	matchLen := bt.MS300
	maxShift := bt.MS40
	lo := bt.FidMark - matchLen/2
	hi := bt.FidMark + matchLen/2
	if lo < 0 {
		lo = 0
	}
	if hi > len(a) {
		hi = len(a)
	}
	if hi > len(beat) {
		hi = len(beat)
	}
	if hi <= lo {
		return math.MaxFloat64, 0
	}

	magA := float64(peakToPeak(a, lo, hi))
	magB := float64(peakToPeak(beat, lo, hi))
	scaleFactor := 1.0
	if scale && magB != 0 {
		scaleFactor = magA / magB
	}
	denom := magA + magB
	if denom == 0 {
		return 0, 0
	}

	best := math.MaxFloat64
	bestShift := 0
	for shift := -maxShift; shift <= maxShift; shift++ {
		residuals := make([]float64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			j := i + shift
			if j < 0 || j >= len(beat) {
				continue
			}
			residuals = append(residuals, float64(a[i])-float64(beat[j])*scaleFactor)
		}
		if len(residuals) == 0 {
			continue
		}
		meanResidual := stat.Mean(residuals, nil)
		absResiduals := make([]float64, len(residuals))
		for i, r := range residuals {
			absResiduals[i] = math.Abs(r - meanResidual)
		}
		meanAbs := stat.Mean(absResiduals, nil)
		if meanAbs < best {
			best = meanAbs
			bestShift = shift
		}
	}
	if best == math.MaxFloat64 {
		return math.MaxFloat64, 0
	}
	return best / denom * 30.0 / float64(matchLen), bestShift
}

func peakToPeak(buf []int, lo, hi int) int {
	if hi <= lo || lo < 0 || hi > len(buf) {
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

// NewBeatType implements spec.md ss4.5's newBeatType: store newBeat as
// a fresh template, evicting the lowest-count (staleness-tiebreak)
// template first if the bank is already full.
func (b *Bank) NewBeatType(newBeat []int, class ecg.BeatType, bt ecg.BeatTiming) int {
	slot := b.typeCount
	if b.typeCount >= ecg.MaxTypes {
		slot = b.evict()
	} else {
		b.typeCount++
	}

	samples := make([]int, len(newBeat))
	copy(samples, newBeat)
	b.templates[slot] = Template{
		Samples: samples,
		Count:   1,
		Geom:    beatgeom.Analyze(samples, bt),
		Class:   class,
	}
	b.totalBeats++
	b.lastNewSlot = slot
	b.hasLastNew = true
	return slot
}

// evict implements the fewest-occurrences, largest-staleness-tiebreak
// rule. spec.md's prose also names a "never matched in 500 beats"
// preference, but as written that branch is unreachable; only the
// count/staleness rule is ever exercised, so that is all this
// implements (see DESIGN.md).
func (b *Bank) evict() int {
	worst := 0
	for i := 1; i < ecg.MaxTypes; i++ {
		t, w := b.templates[i], b.templates[worst]
		if t.Count < w.Count || (t.Count == w.Count && t.Staleness > w.Staleness) {
			worst = i
		}
	}
	if b.OnEvict != nil {
		b.OnEvict(worst)
	}
	return worst
}

// UpdateBeatType implements spec.md ss4.5's updateBeatType: blend the
// template 7/8 against 1/8 of the shifted new beat (a straight average
// when this is only the template's second occurrence ever), re-derive
// its geometry, and push the match metric into its 8-entry history.
func (b *Bank) UpdateBeatType(slot int, newBeat []int, mi2 float64, shift int, bt ecg.BeatTiming) {
	t := &b.templates[slot]
	for i := 0; i < len(t.Samples) && i < len(newBeat); i++ {
		j := i + shift
		if j < 0 || j >= len(newBeat) {
			continue
		}
		if t.Count == 1 {
			t.Samples[i] = (t.Samples[i] + newBeat[j]) / 2
		} else {
			t.Samples[i] = (t.Samples[i]*7 + newBeat[j]) / 8
		}
	}
	t.Count++
	t.Geom = beatgeom.Analyze(t.Samples, bt)
	t.Staleness = 0

	shiftPushFloat(&t.MIs, mi2)
	if t.MIFill < len(t.MIs) {
		t.MIFill++
	}

	for i := 0; i < b.typeCount; i++ {
		if i != slot {
			b.templates[i].Staleness++
		}
	}
	b.totalBeats++
}

// DominantType implements spec.md ss4.5's dominantType: the
// NORMAL-classified template with the highest count; if none qualify
// and the bank has processed more than 300 beats total, fall back to
// the single most frequent template regardless of class.
func (b *Bank) DominantType() int {
	best, bestCount := ecg.NoMatch, -1
	for i := 0; i < b.typeCount; i++ {
		if b.templates[i].Class == ecg.Normal && b.templates[i].Count > bestCount {
			best, bestCount = i, b.templates[i].Count
		}
	}
	if best != ecg.NoMatch {
		return best
	}
	if b.totalBeats <= 300 {
		return ecg.NoMatch
	}
	best, bestCount = ecg.NoMatch, -1
	for i := 0; i < b.typeCount; i++ {
		if b.templates[i].Count > bestCount {
			best, bestCount = i, b.templates[i].Count
		}
	}
	return best
}

// MinimumBeatVariation implements spec.md ss4.5's minimumBeatVariation:
// true iff all 8 recent mi2 entries for slot are under 0.5.
//
// This iterates exactly the template's 8-long MIs row, not a separate
// MAXTYPES-sized loop: spec.md's described implementation loops
// MAXTYPES times over the 8-long row, which is only safe because
// MAXTYPES is pinned to 8 (see DESIGN.md); since both happen to be 8
// here, iterating MIs directly reproduces the same bound without
// depending on that coincidence.
func (b *Bank) MinimumBeatVariation(slot int) bool {
	t := &b.templates[slot]
	if t.MIFill < len(t.MIs) {
		return false
	}
	for _, v := range t.MIs {
		if v >= minVarLimit {
			return false
		}
	}
	return true
}

// WideBeatVariation implements spec.md ss4.5's wideBeatVariation: true
// iff the mean of up to 8 recent mi2 entries exceeds WIDE_VAR_LIMIT.
func (b *Bank) WideBeatVariation(slot int) bool {
	t := &b.templates[slot]
	if t.MIFill == 0 {
		return false
	}
	return stat.Mean(t.MIs[:t.MIFill], nil) > wideVarLimit
}

// ClearLastNewType implements spec.md ss4.5's clearLastNewType: undo
// the most recent NewBeatType call, used when a baseline-shift
// artefact is suspected to have spawned a spurious template.
func (b *Bank) ClearLastNewType() {
	if !b.hasLastNew {
		return
	}
	slot := b.lastNewSlot
	if b.OnClearLastNew != nil {
		b.OnClearLastNew(slot, b.typeCount)
	}
	for i := slot; i < b.typeCount-1; i++ {
		b.copyBeat(i, i+1)
	}
	b.templates[b.typeCount-1] = Template{}
	b.typeCount--
	b.totalBeats--
	b.hasLastNew = false
}

// SetClass assigns slot's persistent classification once the
// classifier's rule cascade or run-length fallback settles on one
// (spec.md ss4.8 step 13's "the template now has a persistent class").
func (b *Bank) SetClass(slot int, class ecg.BeatType) {
	if slot < 0 || slot >= b.typeCount {
		return
	}
	b.templates[slot].Class = class
}

// CompareTo reports the scaled residual metric (compare(), spec.md
// ss4.5) between the template stored at slot and beat, the same
// metric bestMatch uses to pick a winner. The classifier uses this to
// compare a beat against the dominant template even when the
// dominant slot did not win bestMatch.
func (b *Bank) CompareTo(slot int, beat []int, bt ecg.BeatTiming) float64 {
	if slot < 0 || slot >= b.typeCount {
		return math.MaxFloat64
	}
	m, _ := b.compareBest(b.templates[slot].Samples, beat, bt, true)
	return m
}

// merge implements the bestMatch merge branch: average the two
// templates' samples, merge their classifications (NORMAL dominates
// PVC dominates UNKNOWN), sum counts, shift down higher-indexed
// templates, and inform OnMerge before decrementing TypeCount. Returns
// the surviving slot index.
func (b *Bank) merge(a, b2 int, bt ecg.BeatTiming) int {
	lo, hi := a, b2
	if lo > hi {
		lo, hi = hi, lo
	}
	survivor, absorbed := &b.templates[lo], b.templates[hi]

	for i := 0; i < len(survivor.Samples) && i < len(absorbed.Samples); i++ {
		survivor.Samples[i] = (survivor.Samples[i] + absorbed.Samples[i]) / 2
	}
	survivor.Class = dominantClass(survivor.Class, absorbed.Class)
	survivor.Count += absorbed.Count
	survivor.Geom = beatgeom.Analyze(survivor.Samples, bt)

	if b.OnMerge != nil {
		b.OnMerge(lo, hi)
	}
	for i := hi; i < b.typeCount-1; i++ {
		b.copyBeat(i, i+1)
	}
	b.templates[b.typeCount-1] = Template{}
	b.typeCount--
	return lo
}

// copyBeat moves template src down into slot dest during a
// shift-down (ClearLastNewType's undo or post-merge compaction). It carries
// forward a specific field swap from the original matcher: BeatEnd at
// dest is assigned from src's BeatBegin rather than src's BeatEnd.
// Preserved verbatim rather than fixed (see DESIGN.md); harmless in
// practice because BeatBegin/BeatEnd are re-derived by the next
// UpdateBeatType call against the shifted template's own samples.
func (b *Bank) copyBeat(dest, src int) {
	b.templates[dest] = b.templates[src]
	b.templates[dest].Geom.BeatEnd = b.templates[src].Geom.BeatBegin
}

// dominantClass implements "NORMAL dominates PVC dominates UNKNOWN".
func dominantClass(a, b2 ecg.BeatType) ecg.BeatType {
	rank := func(c ecg.BeatType) int {
		switch c {
		case ecg.Normal:
			return 2
		case ecg.PVC:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b2) {
		return a
	}
	return b2
}

func shiftPushFloat(buf *[8]float64, v float64) {
	for i := len(buf) - 1; i > 0; i-- {
		buf[i] = buf[i-1]
	}
	buf[0] = v
}
