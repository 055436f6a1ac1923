package bdac

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
	"github.com/stretchr/testify/require"
)

// sinusBeat writes one narrow QRS-shaped pulse centered at offset
// samples from the start of the slice: a parabolic spike a few
// samples wide at the detection rate.
func sinusBeat(samples []int, center, amp int) {
	for i := range samples {
		d := i - center
		v := amp - (d*d)*50
		if v < 0 {
			v = 0
		}
		if v > samples[i] {
			samples[i] = v
		}
	}
}

// sinusStream builds n beats at the given RR interval (detection-rate
// samples), each a narrow synthetic QRS, flat baseline between beats.
func sinusStream(beats, rrSamples, amp int) []int {
	out := make([]int, beats*rrSamples+rrSamples)
	for b := 0; b < beats; b++ {
		center := b*rrSamples + rrSamples/2
		window := out[center-rrSamples/2 : center+rrSamples/2]
		sinusBeat(window, rrSamples/2, amp)
	}
	return out
}

// TestAnalyze_RegularSinusDetectsAndClassifiesNormal covers spec.md
// ss8's S1 scenario: 60bpm regular sinus rhythm at 200Hz should yield
// at least 9 detected beats, the first UNKNOWN and the rest settling
// to NORMAL once warm-up completes. The detector reports nothing
// during its first 8 one-second initialization windows, so 20 beats
// are fed.
func TestAnalyze_RegularSinusDetectsAndClassifiesNormal(t *testing.T) {
	a := New(200, 0)

	rr := a.dt.MS1000 // 60bpm
	stream := sinusStream(20, rr, 2000)

	var results []Result
	for _, s := range stream {
		r := a.Analyze(s)
		if r.IsBeat() {
			results = append(results, r)
		}
	}

	require.GreaterOrEqual(t, len(results), 9, "expected at least 9 detected beats")
	require.Equal(t, ecg.Unknown, results[0].BeatType, "first beat must be UNKNOWN")

	normalSeen := false
	for _, r := range results[len(results)-3:] {
		if r.BeatType == ecg.Normal {
			normalSeen = true
		}
	}
	require.True(t, normalSeen, "expected steady-state sinus beats to settle on NORMAL, got %+v", results)
}

// TestAnalyze_SilenceProducesNoBeats covers the "no beat this sample"
// half of spec.md ss6's contract: a flat stream, however long, must
// never report a beat.
func TestAnalyze_SilenceProducesNoBeats(t *testing.T) {
	a := New(200, 0)
	for i := 0; i < a.dt.MS1000*20; i++ {
		r := a.Analyze(0)
		require.False(t, r.IsBeat(), "silence must never report a beat")
	}
}

// TestAnalyze_SilenceResetThenBeatStillFires covers spec.md ss8's S4
// scenario: after warm-up and then 10s of silence, the detector must
// still be able to fire on the next beat rather than wedging shut.
func TestAnalyze_SilenceResetThenBeatStillFires(t *testing.T) {
	a := New(200, 0)

	rr := a.dt.MS1000
	warmup := sinusStream(10, rr, 2000)
	for _, s := range warmup {
		a.Analyze(s)
	}

	for i := 0; i < a.dt.MS1000*10; i++ {
		a.Analyze(0)
	}

	afterSilence := sinusStream(3, rr, 2000)
	sawBeat := false
	for _, s := range afterSilence {
		if a.Analyze(s).IsBeat() {
			sawBeat = true
		}
	}
	require.True(t, sawBeat, "expected detector to recover and fire after a silent stretch")
}

// TestAnalyze_IdempotentAcrossFreshAnalyzers covers spec.md ss8
// property 5: feeding the same stream to two fresh analyzers produces
// identical beat position + label sequences.
func TestAnalyze_IdempotentAcrossFreshAnalyzers(t *testing.T) {
	rr := ecg.NewDetTiming(ecg.NewRates(200, 0)).MS1000
	stream := sinusStream(12, rr, 2000)

	run := func() []Result {
		a := New(200, 0)
		var out []Result
		for _, s := range stream {
			if r := a.Analyze(s); r.IsBeat() {
				out = append(out, r)
			}
		}
		return out
	}

	require.Equal(t, run(), run())
}
