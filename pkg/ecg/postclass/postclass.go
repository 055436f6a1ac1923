// Package postclass implements the retrospective per-template
// re-labeling pass from spec.md ss4.7: each new beat can revise the
// classification and rhythm label already reported for the *previous*
// beat, once enough context (the following interval, the next
// template match, the next rhythm call) exists to judge it.
//
// Grounded on spec.md ss4.7 directly; the two 8-entry ring buffers per
// template reuse this module's established ring-buffer-plus-predicate
// shape (pkg/ecg/ringbuf, pkg/ecg/rhythm) rather than a new idiom.
package postclass

import "github.com/nzoschke/ecganalyzer/pkg/ecg"

// lastMI2Limit is the threshold named in spec.md ss4.7 rule (c).
const lastMI2Limit = 2.5

// perTemplate holds the post-class/post-rhythm history for one
// template slot.
type perTemplate struct {
	postClass  [8]ecg.BeatType
	postRhythm [8]ecg.BeatType
	fill       int

	// initCount is PCInitCount: while it is under 3, this slot's
	// buffers are never shifted (spec.md's documented warm-up
	// asymmetry, preserved rather than fixed per DESIGN.md).
	initCount int
}

// Bank owns the re-labeling history for every template slot.
type Bank struct {
	templates [ecg.MaxTypes]perTemplate
}

// New constructs an empty post-classifier bank.
func New() *Bank {
	return &Bank{}
}

// Input bundles the context spec.md ss4.7 re-labels a beat from.
type Input struct {
	// RecentTypes holds the template slots matched by the last three
	// beats: RecentTypes[0] is the current beat, RecentTypes[1] is the
	// beat being re-labeled, RecentTypes[2] is the one before it.
	RecentTypes [3]int
	// RecentRRs holds the RR interval ending at the beat being
	// re-labeled (index 0) and the interval following it, ending at
	// the current beat (index 1).
	RecentRRs   [2]int
	DomType     int
	Width       int
	MI2         float64
	RhythmClass ecg.BeatType
	LastMI2     float64
	LastRC      ecg.BeatType
}

// Relabel implements spec.md ss4.7: given the current beat's context,
// decide the re-labeled classification and rhythm class for the
// *previous* beat (RecentTypes[1]'s slot), pushing them into that
// slot's history. Returns (class, rhythmClass) for the relabeled beat.
func (b *Bank) Relabel(in Input) (ecg.BeatType, ecg.BeatType) {
	slot := in.RecentTypes[1]
	if slot < 0 || slot >= ecg.MaxTypes {
		return ecg.Unknown, in.LastRC
	}
	t := &b.templates[slot]

	if t.initCount < 3 {
		t.initCount++
		return ecg.Unknown, in.LastRC
	}

	neighborsDominant := in.RecentTypes[0] == in.DomType && in.RecentTypes[2] == in.DomType
	shortCompensatory := rrShort(in.RecentRRs[0], in.RecentRRs[1]) && in.RecentRRs[1] > in.RecentRRs[0]

	class := ecg.Unknown
	switch {
	case shortCompensatory && neighborsDominant:
		class = ecg.PVC
	case recentPVCStreak(t) && in.RhythmClass == ecg.PVC:
		class = ecg.PVC
	case in.LastMI2 > lastMI2Limit && neighborsDominant:
		class = ecg.PVC
	}

	rhythmClass := in.LastRC
	if shortCompensatory {
		rhythmClass = ecg.PVC
	}

	shiftPush(&t.postClass, class)
	shiftPush(&t.postRhythm, rhythmClass)
	if t.fill < len(t.postClass) {
		t.fill++
	}

	return class, rhythmClass
}

// recentPVCStreak implements the "previous two entries were PVC (or
// six of eight)" half of rule (b).
func recentPVCStreak(t *perTemplate) bool {
	if t.fill >= 2 && t.postClass[0] == ecg.PVC && t.postClass[1] == ecg.PVC {
		return true
	}
	return countPVC(t.postClass[:min(t.fill, 8)]) >= 6
}

// CheckPostClass implements spec.md ss4.7's checkPostClass: PVC if at
// least 3 of the last 4 or 6 of the last 8 entries are PVC, else
// UNKNOWN.
func (b *Bank) CheckPostClass(slot int) ecg.BeatType {
	t := &b.templates[slot]
	n := min(t.fill, 8)
	if n == 0 {
		return ecg.Unknown
	}
	if countPVC(t.postClass[:min(n, 4)]) >= 3 {
		return ecg.PVC
	}
	if countPVC(t.postClass[:n]) >= 6 {
		return ecg.PVC
	}
	return ecg.Unknown
}

// CheckPCRhythm implements spec.md ss4.7's checkPCRhythm: NORMAL if at
// least 7 of the usable window are NORMAL; PVC if the NORMAL count is
// at or below a threshold that tightens as more history accumulates;
// else UNKNOWN.
func (b *Bank) CheckPCRhythm(slot int) ecg.BeatType {
	t := &b.templates[slot]
	n := min(t.fill, 8)
	if n == 0 {
		return ecg.Unknown
	}
	normalCount := 0
	for _, v := range t.postRhythm[:n] {
		if v == ecg.Normal {
			normalCount++
		}
	}
	if normalCount >= 7 {
		return ecg.Normal
	}

	var limit int
	switch {
	case n < 4:
		limit = 0
	case n <= 6:
		limit = 1
	default:
		limit = 2
	}
	if normalCount <= limit {
		return ecg.PVC
	}
	return ecg.Unknown
}

func countPVC(buf []ecg.BeatType) int {
	n := 0
	for _, v := range buf {
		if v == ecg.PVC {
			n++
		}
	}
	return n
}

// rrShort mirrors rhythm.rrShort's predicate: a < b - b/4.
func rrShort(a, b int) bool {
	return a < b-b/4
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func shiftPush(buf *[8]ecg.BeatType, v ecg.BeatType) {
	for i := len(buf) - 1; i > 0; i-- {
		buf[i] = buf[i-1]
	}
	buf[0] = v
}
