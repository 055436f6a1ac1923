package rhythm

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
)

const bradyLimit = 300 // MS1500-equivalent at a toy rate, not exercised directly here

func feed(c *Checker, rrs ...int) []ecg.BeatType {
	out := make([]ecg.BeatType, len(rrs))
	for i, rr := range rrs {
		out[i] = c.Classify(rr)
	}
	return out
}

func TestClassify_NotReadyDuringLearningWindow(t *testing.T) {
	c := New(bradyLimit)
	for i := 0; i < learningBeats; i++ {
		if c.Ready() {
			t.Fatalf("checker reported ready before %d beats", learningBeats)
		}
		c.Classify(100)
	}
	if !c.Ready() {
		t.Fatal("expected checker to be ready after the learning window")
	}
}

func TestClassify_RegularRunSettlesNormal(t *testing.T) {
	c := New(bradyLimit)
	rrs := make([]int, 12)
	for i := range rrs {
		rrs[i] = 100
	}
	results := feed(c, rrs...)
	for i, r := range results[learningBeats:] {
		if r != ecg.Normal {
			t.Fatalf("beat %d: expected NORMAL on a perfectly regular run, got %v", i+learningBeats, r)
		}
	}
}

func TestClassify_SinglePrematureBeatIsFlagged(t *testing.T) {
	c := New(bradyLimit)
	// Settle into a regular NN run first.
	feed(c, 100, 100, 100, 100, 100, 100)
	// A single much-shorter interval should read as premature (PVC),
	// not as ordinary regularity.
	got := c.Classify(50)
	if got != ecg.PVC {
		t.Fatalf("expected PVC on an abrupt short interval, got %v", got)
	}
}

func TestRRMatch(t *testing.T) {
	if !rrMatch(100, 100) {
		t.Fatal("expected identical intervals to match")
	}
	if rrMatch(100, 200) {
		t.Fatal("expected a 2x interval difference not to match")
	}
}

func TestRRShort(t *testing.T) {
	if !rrShort(50, 100) {
		t.Fatal("expected 50 to be short relative to 100")
	}
	if rrShort(90, 100) {
		t.Fatal("expected 90 not to be short relative to 100 (within 25%)")
	}
}
