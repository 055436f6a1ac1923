package beatgeom

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
)

func testBeatTiming() ecg.BeatTiming {
	return ecg.NewBeatTiming(ecg.NewRates(200, 0))
}

func flatBuffer(bt ecg.BeatTiming, level int) []int {
	buf := make([]int, bt.BeatLength)
	for i := range buf {
		buf[i] = level
	}
	return buf
}

func TestIsoLevel_FlatBufferReturnsLevel(t *testing.T) {
	bt := testBeatTiming()
	buf := flatBuffer(bt, 42)
	if got := IsoLevel(buf, bt); got != 42 {
		t.Fatalf("expected isoLevel 42 on a flat buffer, got %d", got)
	}
}

func TestAmp_EmptyWindowIsZero(t *testing.T) {
	if got := Amp([]int{1, 2, 3}, 2, 2); got != 0 {
		t.Fatalf("expected 0 amp for an empty [onset, offset) window, got %d", got)
	}
	if got := Amp([]int{1, 2, 3}, 2, 1); got != 0 {
		t.Fatalf("expected 0 amp for an inverted window, got %d", got)
	}
}

func TestAmp_PicksOutMaxMinusMin(t *testing.T) {
	buf := []int{0, 5, -3, 7, 0}
	if got := Amp(buf, 0, len(buf)); got != 10 {
		t.Fatalf("expected amp 10 (7 - -3), got %d", got)
	}
}

func TestOnsetOffset_FlatBufferDegeneratesAroundFidMark(t *testing.T) {
	bt := testBeatTiming()
	buf := flatBuffer(bt, 10)
	onset, offset := OnsetOffset(buf, bt)
	// A perfectly flat buffer has zero slope everywhere, so the search
	// must never walk anywhere: onset and offset both collapse to the
	// start of the [FIDMARK-BEAT_MS150, FIDMARK+BEAT_MS150] scan
	// window rather than wandering off into a false extension.
	want := bt.FidMark - bt.MS150
	if want < 1 {
		want = 1
	}
	if onset != want {
		t.Fatalf("expected onset %d for flat buffer, got %d", want, onset)
	}
	if offset != want {
		t.Fatalf("expected offset %d for flat buffer, got %d", want, offset)
	}
}

func sawtooth(bt ecg.BeatTiming) []int {
	buf := make([]int, bt.BeatLength)
	// A square wave alternating +/-20 keeps every window of 2 or more
	// samples at a max-min of 40, comfortably over ISO_LIMIT (20), so
	// no run anywhere in this buffer is isoelectric.
	for i := range buf {
		if i%2 == 0 {
			buf[i] = 20
		} else {
			buf[i] = -20
		}
	}
	return buf
}

func TestBeatBegin_FallsBackWhenNoFlatRunExists(t *testing.T) {
	bt := testBeatTiming()
	buf := sawtooth(bt)
	got := BeatBegin(buf, bt)
	if got < 0 || got >= bt.FidMark {
		t.Fatalf("expected beatBegin before the R-wave, got %d", got)
	}
}

func TestBeatEnd_FallsBackWhenNoFlatRunExists(t *testing.T) {
	bt := testBeatTiming()
	buf := sawtooth(bt)
	got := BeatEnd(buf, bt)
	if got < bt.FidMark {
		t.Fatalf("expected beatEnd after the R-wave, got %d", got)
	}
}
