// Package beatgeom computes the per-beat geometric features spec.md
// ss4.4 asks for: the isoelectric baseline level, the QRS onset and
// offset, the beat's begin/end anchors, and its peak-to-peak
// amplitude. It is purely functional over a beat buffer; it owns no
// state across calls.
//
// Grounded on the teacher's pure-function analysis style (STFT,
// hannWindow in analyzer/stft.go): given a fixed-size buffer, return a
// features struct, with no hidden state carried between calls.
package beatgeom

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"gonum.org/v1/gonum/floats"
)

const isoLimit = 20

// Result bundles the geometric features of one beat buffer.
type Result struct {
	IsoLevel  int
	Onset     int
	Offset    int
	Center    int // midpoint of [Onset, Offset), spec.md ss3's template "center" field
	BeatBegin int
	BeatEnd   int
	Amp       int
}

// Width reports Offset-Onset, the template bank's "width" feature.
func (r Result) Width() int {
	if r.Offset <= r.Onset {
		return 0
	}
	return r.Offset - r.Onset
}

// Analyze computes all geometric features of buf, a beat-rate buffer
// of length bt.BeatLength with the R-wave at bt.FidMark.
func Analyze(buf []int, bt ecg.BeatTiming) Result {
	iso := IsoLevel(buf, bt)
	onset, offset := OnsetOffset(buf, bt)
	return Result{
		IsoLevel:  iso,
		Onset:     onset,
		Offset:    offset,
		Center:    (onset + offset) / 2,
		BeatBegin: BeatBegin(buf, bt),
		BeatEnd:   BeatEnd(buf, bt),
		Amp:       Amp(buf, onset, offset),
	}
}

// IsoLevel implements spec.md ss4.4's isoLevel: the amplitude at the
// start of an isoelectric run preceding the QRS. Searches backward
// from FIDMARK-BEAT_MS80 for an ISO_LENGTH2-long flat run; on failure,
// retries with the shorter ISO_LENGTH1. Returns the sample at
// FIDMARK-BEAT_MS80 if no flat run is found at either length.
func IsoLevel(buf []int, bt ecg.BeatTiming) int {
	start := bt.FidMark - bt.MS80
	if idx, ok := findFlatRunEnd(buf, start, bt.MS80); ok {
		return at(buf, idx)
	}
	if idx, ok := findFlatRunEnd(buf, start, bt.MS50); ok {
		return at(buf, idx)
	}
	return at(buf, start)
}

// findFlatRunEnd scans backward from start looking for a run of the
// given length whose max-min < ISO_LIMIT, and returns the index at the
// start of that run (its oldest sample) on success.
func findFlatRunEnd(buf []int, start, length int) (int, bool) {
	if length <= 0 {
		return 0, false
	}
	for end := start; end-length >= 0; end-- {
		begin := end - length
		lo, hi := minMax(buf, begin, end)
		if hi-lo < isoLimit {
			return begin, true
		}
	}
	return 0, false
}

// OnsetOffset implements spec.md ss4.4's onset/offset search: locate
// the steepest rising and falling slopes around the R-wave, derive a
// threshold from the smaller of the two, then walk outward from each
// while the local slope stays above a quarter of that threshold,
// extending through brief opposite-slope plateaus (the inflection
// check).
func OnsetOffset(buf []int, bt ecg.BeatTiming) (onset, offset int) {
	lo := bt.FidMark - bt.MS150
	hi := bt.FidMark + bt.MS150
	if lo < 1 {
		lo = 1
	}
	if hi > len(buf)-1 {
		hi = len(buf) - 1
	}

	slopes := make([]float64, hi-lo+1)
	for i := lo; i <= hi; i++ {
		slopes[i-lo] = float64(slope(buf, i))
	}
	maxSlopeIdx := lo + floats.MaxIdx(slopes)
	minSlopeIdx := lo + floats.MinIdx(slopes)
	maxSlope := slope(buf, maxSlopeIdx)
	minSlope := slope(buf, minSlopeIdx)

	maxMag := maxSlope
	minMag := -minSlope
	threshold := maxMag
	if minMag < maxMag {
		threshold = minMag
	}
	sLimit := threshold / 4

	onsetFrom, offsetFrom := maxSlopeIdx, minSlopeIdx
	if minSlopeIdx < maxSlopeIdx {
		onsetFrom, offsetFrom = minSlopeIdx, maxSlopeIdx
	}

	onset = walkOut(buf, onsetFrom, -1, sLimit, bt.MS40)
	offset = walkOut(buf, offsetFrom, 1, sLimit, bt.MS40)

	if iso := IsoLevel(buf, bt); at(buf, offset) < iso-isoLimit*2 {
		offset = extendAcrossUpslope(buf, offset, bt.MS100)
	}
	return onset, offset
}

// walkOut walks from start in the given direction (-1 for onset, +1
// for offset) while the local slope magnitude exceeds sLimit,
// extending through opposite-slope plateaus up to infChkN samples
// long when a qualifying slope resumes beyond them.
func walkOut(buf []int, start, dir, sLimit, infChkN int) int {
	idx := start
	for {
		next := idx + dir
		if next < 1 || next > len(buf)-2 {
			return idx
		}
		if abs(slope(buf, next)) > sLimit {
			idx = next
			continue
		}

		// Possible plateau: look ahead up to infChkN samples for a
		// slope that still qualifies, and extend through it if found.
		extended := false
		for k := 1; k <= infChkN; k++ {
			probe := next + dir*k
			if probe < 1 || probe > len(buf)-2 {
				break
			}
			if abs(slope(buf, probe)) > sLimit {
				idx = probe
				extended = true
				break
			}
		}
		if !extended {
			return idx
		}
	}
}

// extendAcrossUpslope implements the deep-S extension: when the
// offset lands well below the isoelectric level, walk forward across
// the following rising edge up to maxExtend samples.
func extendAcrossUpslope(buf []int, offset, maxExtend int) int {
	idx := offset
	for k := 1; k <= maxExtend; k++ {
		next := offset + k
		if next > len(buf)-2 {
			break
		}
		if slope(buf, next) <= 0 {
			break
		}
		idx = next
	}
	return idx
}

// BeatBegin implements spec.md ss4.4's beatBegin: the earliest
// isoelectric anchor at least 250ms before the R-wave, falling back to
// exactly BEAT_MS250-equivalent (bt's 250ms point) when no flat run is
// found in range.
func BeatBegin(buf []int, bt ecg.BeatTiming) int {
	target := bt.FidMark - n250(bt)
	if idx, ok := findFlatRunEnd(buf, target, bt.MS50); ok {
		return idx
	}
	if target < 0 {
		target = 0
	}
	return target
}

// BeatEnd implements spec.md ss4.4's beatEnd: the first isoelectric
// segment at least 300ms after the R-wave.
func BeatEnd(buf []int, bt ecg.BeatTiming) int {
	start := bt.FidMark + bt.MS300
	for begin := start; begin+bt.MS50 <= len(buf); begin++ {
		lo, hi := minMax(buf, begin, begin+bt.MS50)
		if hi-lo < isoLimit {
			return begin
		}
	}
	if start > len(buf)-1 {
		return len(buf) - 1
	}
	return start
}

// Amp implements spec.md ss4.4's amp: max-min over [onset, offset).
func Amp(buf []int, onset, offset int) int {
	if offset <= onset {
		return 0
	}
	lo, hi := minMax(buf, onset, offset)
	return hi - lo
}

// n250 derives a 250ms-equivalent sample count from the beat timing
// bundle's own ratios, since BeatTiming does not carry MS250 directly;
// 250 = 150 + 100, both already materialized.
func n250(bt ecg.BeatTiming) int {
	return bt.MS150 + bt.MS100
}

func slope(buf []int, i int) int {
	if i < 1 || i >= len(buf) {
		return 0
	}
	return buf[i] - buf[i-1]
}

func minMax(buf []int, begin, end int) (lo, hi int) {
	if begin < 0 {
		begin = 0
	}
	if end > len(buf) {
		end = len(buf)
	}
	if begin >= end {
		return 0, 0
	}
	lo, hi = buf[begin], buf[begin]
	for i := begin + 1; i < end; i++ {
		if buf[i] < lo {
			lo = buf[i]
		}
		if buf[i] > hi {
			hi = buf[i]
		}
	}
	return lo, hi
}

func at(buf []int, i int) int {
	if i < 0 || i >= len(buf) {
		return 0
	}
	return buf[i]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
