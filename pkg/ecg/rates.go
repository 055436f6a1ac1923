// Package ecg holds the types and rate-derived constant bundles shared
// by every stage of the streaming ECG pipeline: the sample-rate
// arithmetic in Rates, the beat classification enumeration, and the
// fixed capacity of the template bank.
package ecg

// BeatType is drawn from the externally defined ECG annotation
// enumeration (spec.md ss6); only the members this analyzer emits or
// consumes internally are named here.
type BeatType int

const (
	// Normal is a sinus-conducted beat.
	Normal BeatType = 1
	// PVC is a premature ventricular contraction.
	PVC BeatType = 5
	// Unknown is returned when no confident label can be assigned,
	// and as the sentinel label for the very first beat of a stream.
	Unknown BeatType = 13
	// Discard is an internal sentinel ("trailing edge of PVC"):
	// bdac.Analyzer suppresses emission and folds the RR interval
	// into the next beat instead of reporting this one.
	Discard BeatType = 100
)

// MaxTypes is MAXTYPES from spec.md ss3: the template bank holds at most
// this many morphologies. A matchType equal to MaxTypes means "no
// match" (spec.md ss3 invariants).
const MaxTypes = 8

// NoMatch is the pseudo-type used when a beat matched nothing in the
// template bank.
const NoMatch = MaxTypes

// Rates bundles the two sample rates the pipeline must agree on: R_d,
// the detection-rate stream the filter/detector run at, and R_b, the
// beat-analysis rate at which beat templates are stored (typically
// R_d/2, via pair-averaging downsample).
type Rates struct {
	Det  int // detection rate in Hz, spec range [150, 400]
	Beat int // beat-analysis rate in Hz, typically Det/2
}

// NewRates constructs a Rates bundle. beatHz of 0 defaults to detHz/2,
// the typical configuration spec.md ss3 describes.
func NewRates(detHz, beatHz int) Rates {
	if beatHz == 0 {
		beatHz = detHz / 2
	}
	return Rates{Det: detHz, Beat: beatHz}
}

// N converts a millisecond duration to a sample count at rateHz,
// rounding to nearest: N(ms) = round(ms * R / 1000), spec.md ss3.
func N(ms, rateHz int) int {
	return (ms*rateHz + 500) / 1000
}

// NDet converts ms to a sample count at the detection rate.
func (r Rates) NDet(ms int) int { return N(ms, r.Det) }

// NBeat converts ms to a sample count at the beat rate.
func (r Rates) NBeat(ms int) int { return N(ms, r.Beat) }

// DownsampleRatio is how many detection-rate samples pair-average into
// one beat-rate sample (2 in the typical R_b = R_d/2 configuration).
func (r Rates) DownsampleRatio() int {
	if r.Beat == 0 {
		return 1
	}
	ratio := r.Det / r.Beat
	if ratio < 1 {
		ratio = 1
	}
	return ratio
}

// DetTiming is the set of detection-rate sample counts the filter
// chain and QRS detector are built from, computed once from Rates so
// every component derives identical values (spec.md ss9: "components
// are explicitly constructed with rate-derived parameter bundles").
type DetTiming struct {
	MS10, MS25, MS50, MS80, MS90, MS95, MS100, MS110, MS125,
	MS130, MS140, MS150, MS195, MS220, MS250, MS300, MS360,
	MS1000, MS1500 int
}

// NewDetTiming derives all detection-rate constants from rates.
func NewDetTiming(rates Rates) DetTiming {
	n := rates.NDet
	return DetTiming{
		MS10: n(10), MS25: n(25), MS50: n(50), MS80: n(80), MS90: n(90),
		MS95: n(95), MS100: n(100), MS110: n(110), MS125: n(125),
		MS130: n(130), MS140: n(140), MS150: n(150), MS195: n(195),
		MS220: n(220), MS250: n(250), MS300: n(300), MS360: n(360),
		MS1000: n(1000), MS1500: n(1500),
	}
}

// BeatTiming is the set of beat-rate ("BEAT_MS...") sample counts the
// beat analyzer, template bank, and classifier are built from.
type BeatTiming struct {
	MS10, MS20, MS40, MS50, MS60, MS80, MS90, MS100, MS110, MS130, MS140, MS150, MS300 int
	// BeatLength is BEATLGTH: the fixed length of a beat buffer (1000ms
	// of beat-rate samples).
	BeatLength int
	// FidMark is the canonical R-wave index within a beat buffer,
	// BEAT_MS400 (spec.md ss3 invariant).
	FidMark int
}

// NewBeatTiming derives all beat-rate constants from rates.
func NewBeatTiming(rates Rates) BeatTiming {
	n := rates.NBeat
	return BeatTiming{
		MS10: n(10),
		MS20: n(20), MS40: n(40), MS50: n(50), MS60: n(60), MS80: n(80), MS90: n(90),
		MS100: n(100), MS110: n(110), MS130: n(130), MS140: n(140),
		MS150: n(150), MS300: n(300),
		BeatLength: n(1000),
		FidMark:    n(400),
	}
}
