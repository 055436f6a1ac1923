package template

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
)

func testBeatTiming() ecg.BeatTiming {
	return ecg.NewBeatTiming(ecg.NewRates(200, 0))
}

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

func TestNewBeatType_StoresAndCounts(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	beat := gaussianBeat(bt, 1000)

	slot := bank.NewBeatType(beat, ecg.Normal, bt)
	if bank.TypeCount() != 1 {
		t.Fatalf("expected TypeCount 1, got %d", bank.TypeCount())
	}
	if bank.Template(slot).Count != 1 {
		t.Fatalf("expected new template count 1, got %d", bank.Template(slot).Count)
	}
}

func TestBestMatch_IdenticalBeatScoresNearZero(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	beat := gaussianBeat(bt, 1000)
	bank.NewBeatType(beat, ecg.Normal, bt)

	slot, _, mi2, _ := bank.BestMatch(beat, bt)
	if slot != 0 {
		t.Fatalf("expected match against slot 0, got %d", slot)
	}
	if mi2 > 0.01 {
		t.Fatalf("expected near-zero residual for an identical beat, got %f", mi2)
	}
}

func TestBestMatch_EmptyBankReturnsNoMatch(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	slot, _, _, _ := bank.BestMatch(gaussianBeat(bt, 1000), bt)
	if slot != ecg.NoMatch {
		t.Fatalf("expected NoMatch on an empty bank, got %d", slot)
	}
}

func TestNewBeatType_EvictsFewestCountOnOverflow(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	for i := 0; i < ecg.MaxTypes; i++ {
		beat := gaussianBeat(bt, 200+i*400)
		bank.NewBeatType(beat, ecg.Unknown, bt)
	}
	if bank.TypeCount() != ecg.MaxTypes {
		t.Fatalf("expected bank full at %d, got %d", ecg.MaxTypes, bank.TypeCount())
	}

	// Bump slot 3's count so it is never the eviction candidate.
	bank.UpdateBeatType(3, gaussianBeat(bt, 200+3*400), 0, 0, bt)

	evicted := -1
	bank.OnEvict = func(slot int) { evicted = slot }
	bank.NewBeatType(gaussianBeat(bt, 5000), ecg.PVC, bt)

	if evicted == 3 {
		t.Fatal("expected the bumped-count template to survive eviction")
	}
	if bank.TypeCount() != ecg.MaxTypes {
		t.Fatalf("expected bank to stay full at %d after an overflow insert, got %d", ecg.MaxTypes, bank.TypeCount())
	}
}

func TestClearLastNewType_UndoesInsertion(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	bank.NewBeatType(gaussianBeat(bt, 1000), ecg.Normal, bt)
	bank.NewBeatType(gaussianBeat(bt, 2000), ecg.PVC, bt)

	bank.ClearLastNewType()
	if bank.TypeCount() != 1 {
		t.Fatalf("expected TypeCount 1 after undo, got %d", bank.TypeCount())
	}
}

func TestMinimumBeatVariation_RequiresFullHistory(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	slot := bank.NewBeatType(gaussianBeat(bt, 1000), ecg.Normal, bt)
	if bank.MinimumBeatVariation(slot) {
		t.Fatal("expected false before 8 match-index entries accumulate")
	}
	for i := 0; i < 8; i++ {
		bank.UpdateBeatType(slot, gaussianBeat(bt, 1000), 0.1, 0, bt)
	}
	if !bank.MinimumBeatVariation(slot) {
		t.Fatal("expected true once 8 low-variation entries accumulate")
	}
}

func TestDominantType_PrefersNormalHighestCount(t *testing.T) {
	bt := testBeatTiming()
	bank := New()
	n := bank.NewBeatType(gaussianBeat(bt, 1000), ecg.Normal, bt)
	bank.NewBeatType(gaussianBeat(bt, 3000), ecg.PVC, bt)
	bank.UpdateBeatType(n, gaussianBeat(bt, 1000), 0, 0, bt)

	if got := bank.DominantType(); got != n {
		t.Fatalf("expected dominant type to be the NORMAL slot %d, got %d", n, got)
	}
}
