package classify

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
)

func testRatesAndTiming() (ecg.Rates, ecg.BeatTiming) {
	rates := ecg.NewRates(200, 0)
	return rates, ecg.NewBeatTiming(rates)
}

// gaussianBeat builds a synthetic beat buffer: a smooth parabolic
// bump peaking at FidMark (positive across the whole buffer at the
// amplitudes used here), the same synthetic shape pkg/ecg/template's
// tests use.
func gaussianBeat(bt ecg.BeatTiming, amp int) []int {
	buf := make([]int, bt.BeatLength)
	for i := range buf {
		d := i - bt.FidMark
		buf[i] = amp - (d*d)/50
		if buf[i] < 0 {
			buf[i] = 0
		}
	}
	return buf
}

// wideBeat builds a synthetic beat noticeably wider than gaussianBeat,
// standing in for an ectopic-morphology complex.
func wideBeat(bt ecg.BeatTiming, amp int) []int {
	buf := make([]int, bt.BeatLength)
	for i := range buf {
		d := i - bt.FidMark
		buf[i] = amp - (d*d)/200
		if buf[i] < 0 {
			buf[i] = 0
		}
	}
	return buf
}

func TestClassify_FirstBeatIsUnknown(t *testing.T) {
	rates, bt := testRatesAndTiming()
	c := New(rates, bt, rates.NDet(1500))

	label, _, _ := c.Classify(gaussianBeat(bt, 1000), rates.NDet(1000), 0)
	if label != ecg.Unknown {
		t.Fatalf("expected first beat UNKNOWN, got %v", label)
	}
}

func TestClassify_SteadySinusSettlesNormal(t *testing.T) {
	rates, bt := testRatesAndTiming()
	c := New(rates, bt, rates.NDet(1500))

	rr := rates.NDet(1000) // 60bpm
	var last ecg.BeatType
	for i := 0; i < 40; i++ {
		last, _, _ = c.Classify(gaussianBeat(bt, 1000), rr, 0)
	}
	if last != ecg.Normal {
		t.Fatalf("expected steady sinus rhythm to settle on NORMAL, got %v", last)
	}
}

func TestClassify_DoesNotPanicOnIrregularWideBeat(t *testing.T) {
	rates, bt := testRatesAndTiming()
	c := New(rates, bt, rates.NDet(1500))

	rr := rates.NDet(1000)
	for i := 0; i < 20; i++ {
		c.Classify(gaussianBeat(bt, 1000), rr, 0)
	}
	// A premature, wide, differently-shaped beat (compensatory pause
	// pattern), followed by the stream resuming its normal cadence.
	c.Classify(wideBeat(bt, 1400), rr-rr/3, 0)
	label, _, _ := c.Classify(gaussianBeat(bt, 1000), rr+rr/3, 0)
	if label != ecg.Normal && label != ecg.PVC && label != ecg.Unknown {
		t.Fatalf("expected a valid beat type, got %v", label)
	}
}

func TestClassify_TemplateCapRespected(t *testing.T) {
	rates, bt := testRatesAndTiming()
	c := New(rates, bt, rates.NDet(1500))

	rr := rates.NDet(1000)
	for shape := 0; shape < ecg.MaxTypes+4; shape++ {
		// Force a new-type decision path with a large irregular RR
		// jump so the bank fills past capacity and must evict.
		c.Classify(gaussianBeat(bt, 500+shape*700), rr+shape*rr, 0)
	}
	if c.Bank().TypeCount() > ecg.MaxTypes {
		t.Fatalf("expected TypeCount <= %d, got %d", ecg.MaxTypes, c.Bank().TypeCount())
	}
}

func TestDominantMonitor_CountsStayBounded(t *testing.T) {
	d := newDominantMonitor()
	for i := 0; i < dmBufferLength*2; i++ {
		d.push(0, i%2 == 0, ecg.Normal)
	}
	if d.normCounts[0] > d.beatCounts[0] {
		t.Fatalf("expected normCounts <= beatCounts, got %d > %d", d.normCounts[0], d.beatCounts[0])
	}
	if d.beatCounts[0] > dmBufferLength {
		t.Fatalf("expected beatCounts bounded by ring length, got %d", d.beatCounts[0])
	}
}
