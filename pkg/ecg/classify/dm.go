package classify

import (
	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/nzoschke/ecganalyzer/pkg/ecg/template"
)

// dmBufferLength is DM_BUFFER_LENGTH from spec.md ss3/ss4.8 step 9.
const dmBufferLength = 180

// dmEntry is one slot of the dominant monitor's ring: which template
// this beat matched, whether it counted as "normal", and the rhythm
// label it carried.
type dmEntry struct {
	typ    int
	normal bool
	label  ecg.BeatType
}

// dominantMonitor implements spec.md ss4.8 step 9: a fixed-length
// history of the last dmBufferLength beats, tracked per-template so
// DominantType can pick the template with the most "normal" beats
// (falling back to raw frequency), and kept in sync with the template
// bank's own slot shuffling on evict/merge/undo (spec.md ss3's
// Ownership note: "when templates are merged, higher slots shift down
// and the dominant monitor's historical slot references must be
// rewritten").
type dominantMonitor struct {
	ring [dmBufferLength]dmEntry
	fill int
	next int

	beatCounts [ecg.MaxTypes]int
	normCounts [ecg.MaxTypes]int
}

func newDominantMonitor() *dominantMonitor { return &dominantMonitor{} }

// push records one beat's (type, normal, rhythm label), evicting the
// oldest ring entry's counts once the buffer is full.
func (d *dominantMonitor) push(typ int, normal bool, label ecg.BeatType) {
	if d.fill == dmBufferLength {
		d.decrement(d.ring[d.next])
	} else {
		d.fill++
	}
	d.ring[d.next] = dmEntry{typ: typ, normal: normal, label: label}
	d.increment(typ, normal)
	d.next = (d.next + 1) % dmBufferLength
}

func (d *dominantMonitor) increment(typ int, normal bool) {
	if typ < 0 || typ >= ecg.MaxTypes {
		return
	}
	d.beatCounts[typ]++
	if normal {
		d.normCounts[typ]++
	}
}

func (d *dominantMonitor) decrement(e dmEntry) {
	if e.typ < 0 || e.typ >= ecg.MaxTypes {
		return
	}
	d.beatCounts[e.typ]--
	if e.normal {
		d.normCounts[e.typ]--
	}
}

// retire implements adjustDomData(evicted, MAXTYPES): zero the slot's
// running counts and rewrite every ring entry that referenced it to
// the "no match" sentinel.
func (d *dominantMonitor) retire(slot int) {
	if slot < 0 || slot >= ecg.MaxTypes {
		return
	}
	d.beatCounts[slot] = 0
	d.normCounts[slot] = 0
	for i := range d.ring {
		if d.ring[i].typ == slot {
			d.ring[i].typ = ecg.NoMatch
		}
	}
}

// combine implements combineDomData: fold absorbed's running counts
// and ring references into survivor.
func (d *dominantMonitor) combine(survivor, absorbed int) {
	if survivor < 0 || survivor >= ecg.MaxTypes || absorbed < 0 || absorbed >= ecg.MaxTypes {
		return
	}
	d.beatCounts[survivor] += d.beatCounts[absorbed]
	d.normCounts[survivor] += d.normCounts[absorbed]
	d.beatCounts[absorbed] = 0
	d.normCounts[absorbed] = 0
	for i := range d.ring {
		if d.ring[i].typ == absorbed {
			d.ring[i].typ = survivor
		}
	}
}

// shiftDown renames every reference to slot `from` down to `from-1`,
// mirroring the template bank's own compaction after a merge or a
// ClearLastNewType undo (an eviction replaces its slot in place and
// shifts nothing).
func (d *dominantMonitor) shiftDown(from int) {
	to := from - 1
	if from < 0 || from >= ecg.MaxTypes || to < 0 {
		return
	}
	d.beatCounts[to] = d.beatCounts[from]
	d.normCounts[to] = d.normCounts[from]
	d.beatCounts[from] = 0
	d.normCounts[from] = 0
	for i := range d.ring {
		if d.ring[i].typ == from {
			d.ring[i].typ = to
		}
	}
}

// dominantType implements spec.md ss4.5/ss4.8's dominantType query as
// refined by the dominant monitor: the template with the most
// "normal" counts, falling back to the most frequent raw type when no
// template has any normal counts, or when the leading template's raw
// count outruns its normal count at least 2:1 (a beat type that
// "looks normal" only half the time it occurs, or less, is not a
// trustworthy sinus template).
func (d *dominantMonitor) dominantType(typeCount int) int {
	best, bestNorm := ecg.NoMatch, 0
	for t := 0; t < typeCount; t++ {
		if d.normCounts[t] > bestNorm {
			best, bestNorm = t, d.normCounts[t]
		}
	}
	if best != ecg.NoMatch && d.beatCounts[best] < 2*bestNorm {
		return best
	}

	best, bestCount := ecg.NoMatch, 0
	for t := 0; t < typeCount; t++ {
		if d.beatCounts[t] > bestCount {
			best, bestCount = t, d.beatCounts[t]
		}
	}
	return best
}

// relabelInconsistentNormals implements spec.md ss4.8 step 9's "the
// monitor also re-labels overly-inconsistent NORMAL templates back to
// UNKNOWN": any template classified NORMAL whose recent match indices
// show wide variation is demoted, since a sinus template should match
// its own beats tightly.
func (d *dominantMonitor) relabelInconsistentNormals(bank *template.Bank) {
	for t := 0; t < bank.TypeCount(); t++ {
		if bank.Template(t).Class == ecg.Normal && bank.WideBeatVariation(t) {
			bank.SetClass(t, ecg.Unknown)
		}
	}
}
