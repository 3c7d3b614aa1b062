package phase

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPhase_Ordering(t *testing.T) {
	all := All()
	if len(all) != 9 {
		t.Fatalf("expected 9 phases, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i-1].Before(all[i]) {
			t.Errorf("%s should come before %s", all[i-1], all[i])
		}
	}
	if !Built.Before(Destrooted) {
		t.Error("Built should be before Destrooted")
	}
	if Activated.Before(Activated) {
		t.Error("a phase is not before itself")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, p := range All() {
		got, err := Parse(p.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", p.String(), err)
		}
		if got != p {
			t.Errorf("Parse(%q) = %v, want %v", p.String(), got, p)
		}
	}

	got, err := Parse("  Built ")
	if err != nil || got != Built {
		t.Errorf("Parse should trim and ignore case, got %v, %v", got, err)
	}
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("installed")
	var unknown *UnknownPhaseError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPhaseError, got %v", err)
	}
	if unknown.Name != "installed" {
		t.Errorf("Name = %q, want %q", unknown.Name, "installed")
	}
}

func TestSet(t *testing.T) {
	s := NewSet(Built, Downloaded, Deactivated)
	if !s.Has(Built) || s.Has(Patched) {
		t.Error("unexpected membership")
	}
	sorted := s.Sorted()
	want := []Phase{Downloaded, Built, Deactivated}
	if len(sorted) != len(want) {
		t.Fatalf("Sorted() = %v, want %v", sorted, want)
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Errorf("Sorted()[%d] = %v, want %v", i, sorted[i], want[i])
		}
	}
	if s.Highest() != Built {
		t.Errorf("Highest() = %v, want built", s.Highest())
	}
	if NewSet().Highest() != None {
		t.Error("empty set should report None")
	}
}

func TestPhase_StringInvalid(t *testing.T) {
	if Phase(42).Valid() {
		t.Error("42 should not be valid")
	}
	if Phase(42).String() != "phase(42)" {
		t.Errorf("unexpected string %q", Phase(42).String())
	}
}

func TestPhase_JSON(t *testing.T) {
	data, err := json.Marshal([]Phase{Built, Activated})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `["built","activated"]` {
		t.Errorf("Marshal() = %s", data)
	}

	var back []Phase
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(back) != 2 || back[0] != Built || back[1] != Activated {
		t.Errorf("Unmarshal() = %v", back)
	}

	var unknown Phase
	if err := json.Unmarshal([]byte(`"cooked"`), &unknown); err == nil {
		t.Error("expected error for unknown phase name")
	}
}
