package postclass

import (
	"testing"

	"github.com/nzoschke/ecganalyzer/pkg/ecg"
)

func baseInput(slot int) Input {
	return Input{
		RecentTypes: [3]int{slot, slot, slot},
		RecentRRs:   [2]int{100, 100},
		DomType:     slot,
		RhythmClass: ecg.Normal,
		LastRC:      ecg.Normal,
	}
}

func TestRelabel_WarmUpIgnoresFirstThreeCalls(t *testing.T) {
	bank := New()
	in := baseInput(0)
	in.RecentRRs = [2]int{50, 150} // would otherwise read as short+compensatory
	for i := 0; i < 3; i++ {
		class, _ := bank.Relabel(in)
		if class != ecg.Unknown {
			t.Fatalf("call %d: expected UNKNOWN during warm-up, got %v", i, class)
		}
	}
	// The buffers must still be empty: CheckPostClass has nothing to
	// read yet.
	if got := bank.CheckPostClass(0); got != ecg.Unknown {
		t.Fatalf("expected UNKNOWN with no history, got %v", got)
	}
}

func TestRelabel_ShortCompensatoryWithDominantNeighborsIsPVC(t *testing.T) {
	bank := New()
	in := baseInput(0)
	in.RecentRRs = [2]int{50, 150}

	// Burn through the 3-call warm-up first.
	for i := 0; i < 3; i++ {
		bank.Relabel(in)
	}
	class, rhythmClass := bank.Relabel(in)
	if class != ecg.PVC {
		t.Fatalf("expected PVC for a short+compensatory interval with dominant neighbors, got %v", class)
	}
	if rhythmClass != ecg.PVC {
		t.Fatalf("expected rhythm re-label PVC, got %v", rhythmClass)
	}
}

func TestRelabel_RegularIntervalWithDominantNeighborsIsUnknown(t *testing.T) {
	bank := New()
	in := baseInput(0)
	for i := 0; i < 4; i++ {
		bank.Relabel(in)
	}
	class, rhythmClass := bank.Relabel(in)
	if class != ecg.Unknown {
		t.Fatalf("expected UNKNOWN for a regular interval, got %v", class)
	}
	if rhythmClass != in.LastRC {
		t.Fatalf("expected rhythm re-label to pass through LastRC, got %v", rhythmClass)
	}
}

func TestCheckPostClass_MajorityPVCWins(t *testing.T) {
	bank := New()
	in := baseInput(0)
	in.RecentRRs = [2]int{50, 150}
	// Warm-up (3) + 4 short-compensatory relabels = majority PVC in
	// the last 4.
	for i := 0; i < 7; i++ {
		bank.Relabel(in)
	}
	if got := bank.CheckPostClass(0); got != ecg.PVC {
		t.Fatalf("expected PVC after a majority-PVC run, got %v", got)
	}
}

func TestCheckPCRhythm_MostlyNormalWins(t *testing.T) {
	bank := New()
	in := baseInput(0)
	for i := 0; i < 11; i++ {
		bank.Relabel(in)
	}
	if got := bank.CheckPCRhythm(0); got != ecg.Normal {
		t.Fatalf("expected NORMAL after a fully regular run, got %v", got)
	}
}
