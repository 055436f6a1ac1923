// Package rhythm implements the RR-interval state machine from
// spec.md ss4.6: classify each new RR interval by how it relates to
// its predecessors, tracking a five-state label (QQ/NN/NV/VN/VV) over
// the last 8 intervals and flagging sustained bigeminy.
//
// Grounded on spec.md ss4.6 directly; this state machine has no close
// analog elsewhere in the retrieved pack beyond the small
// ring-buffer-plus-predicate idiom used throughout this module
// (pkg/ecg/ringbuf, pkg/ecg/noise), so it is implemented as a
// self-contained package rather than forced onto an unrelated
// teacher shape.
package rhythm

import "github.com/nzoschke/ecganalyzer/pkg/ecg"

// label is the RRTypes enumeration from spec.md ss4.6.
type label int

const (
	qq label = iota
	nn
	nv
	vn
	vv
)

// learningBeats is how many beats the checker observes before its
// output is trusted (spec.md ss4.6: "a learning counter that flips to
// READY after 4 beats").
const learningBeats = 4

// Checker holds the RR/label history and bigeminy-tracking state for
// one beat stream.
type Checker struct {
	bradyLimit int

	rrBuf   [8]int
	typeBuf [8]label

	learnCount int
	bigeminy   bool
	biToggle   bool
}

// New constructs a Checker. bradyLimit is BRADY_LIMIT = MS1500 at the
// detection rate the RR intervals are measured in.
func New(bradyLimit int) *Checker {
	return &Checker{bradyLimit: bradyLimit}
}

// Ready reports whether the checker has seen enough beats for its
// classification to be trusted (spec.md ss4.6's learning counter).
func (c *Checker) Ready() bool {
	return c.learnCount >= learningBeats
}

// IsBigeminy reports whether the checker is currently tracking a
// sustained alternating NV/VN (bigeminy) pattern.
func (c *Checker) IsBigeminy() bool {
	return c.bigeminy
}

// Classify implements rhythmChk: shift the RR/label history, push rr
// as the newest interval, and derive its classification by branching
// on the previous interval's label.
func (c *Checker) Classify(rr int) ecg.BeatType {
	copy(c.rrBuf[1:], c.rrBuf[:len(c.rrBuf)-1])
	c.rrBuf[0] = rr
	copy(c.typeBuf[1:], c.typeBuf[:len(c.typeBuf)-1])

	var newLabel label
	var result ecg.BeatType
	switch c.typeBuf[1] {
	case qq:
		newLabel, result = c.fromQQ()
	case nn:
		newLabel, result = c.fromNN()
	case nv:
		newLabel, result = c.fromNV()
	case vn:
		newLabel, result = c.fromVN()
	case vv:
		newLabel, result = c.fromVV()
	}
	c.typeBuf[0] = newLabel

	if c.learnCount < learningBeats {
		c.learnCount++
	}
	if !c.Ready() {
		return ecg.Unknown
	}
	return result
}

// fromQQ implements the QQ branch: look for four-in-a-row regularity,
// else bigeminy, else the single-premature-beat-in-a-regular-run
// pattern, else stay QQ/UNKNOWN.
func (c *Checker) fromQQ() (label, ecg.BeatType) {
	rr := c.rrBuf
	if rrMatch(rr[0], rr[1]) && rrMatch(rr[1], rr[2]) && rrMatch(rr[2], rr[3]) {
		c.bigeminy = false
		return nn, ecg.Normal
	}
	if rrMatch(rr[0], rr[2]) && rrMatch(rr[1], rr[3]) && !rrMatch(rr[0], rr[1]) {
		c.bigeminy = true
		if c.biToggle {
			c.biToggle = false
			return nv, ecg.PVC
		}
		c.biToggle = true
		return vn, ecg.Normal
	}
	if rrMatch(rr[0], rr[1]) && rrMatch(rr[1], rr[3]) && rrShort(rr[2], mean2(rr[0], rr[1])) {
		return nv, ecg.PVC
	}
	return qq, ecg.Unknown
}

// fromNN implements the NN branch: a single short interval embedded in
// an otherwise regular run is flagged as premature unless it reads as
// ordinary bradycardia-range slowing.
func (c *Checker) fromNN() (label, ecg.BeatType) {
	rr := c.rrBuf
	if rrMatch(rr[0], rr[1]) {
		return nn, ecg.Normal
	}
	if rrShort(rr[0], rr[1]) && rr[1] < c.bradyLimit {
		return nv, ecg.PVC
	}
	return qq, ecg.Unknown
}

// fromNV implements the NV branch: a matching premature interval
// confirms sustained ectopy (VV); a longer following interval reads as
// the compensatory pause back to normal (VN).
func (c *Checker) fromNV() (label, ecg.BeatType) {
	rr := c.rrBuf
	switch {
	case rrMatch(rr[0], rr[1]):
		return vv, ecg.PVC
	case rr[0] > rr[1]:
		return vn, ecg.Normal
	default:
		return nv, ecg.PVC
	}
}

// fromVN implements the VN branch: the interval following a
// compensatory pause is classified by whether it resumes the prior
// regular cadence or reads as another premature interval. The
// reference is the most recent NN-labelled interval in the history,
// or the pause itself when none is left.
func (c *Checker) fromVN() (label, ecg.BeatType) {
	rr := c.rrBuf
	ref := rr[1]
	for i := 2; i < len(rr); i++ {
		if c.typeBuf[i] == nn {
			ref = rr[i]
			break
		}
	}
	if rrMatch(rr[0], ref) {
		return nn, ecg.Normal
	}
	return nv, ecg.PVC
}

// fromVV implements the VV branch: continued matching stays PVC; a
// longer interval reads as the return to normal; anything else drops
// back to QQ/UNKNOWN.
func (c *Checker) fromVV() (label, ecg.BeatType) {
	rr := c.rrBuf
	switch {
	case rrMatch(rr[0], rr[1]):
		return vv, ecg.PVC
	case rr[0] > rr[1]:
		return vn, ecg.Normal
	default:
		return qq, ecg.Unknown
	}
}

// rrMatch implements spec.md ss4.6: |a-b| < (a+b)/8.
func rrMatch(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < (a+b)/8
}

// rrShort implements spec.md ss4.6: a < b - b/4.
func rrShort(a, b int) bool {
	return a < b-b/4
}

func mean2(a, b int) int {
	return (a + b) / 2
}
