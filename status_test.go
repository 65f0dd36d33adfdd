package safepoint

import "testing"

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{
		StatusCreated: "created",
		StatusManaged: "managed",
		StatusTrusted: "trusted",
		StatusForeign: "foreign",
		StatusBarrier: "barrier",
		Status(9):     "status(9)",
	} {
		if got := s.String(); got != want {
			t.Fatalf("Status(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
	for b, want := range map[Behavior]string{
		BehaviorAllow:   "allow",
		BehaviorPrevent: "prevent",
		BehaviorCrashed: "crashed",
	} {
		if got := b.String(); got != want {
			t.Fatalf("Behavior(%d).String() = %q, want %q", int32(b), got, want)
		}
	}
	if phaseHeld.String() != "held" {
		t.Fatalf("phaseHeld = %q", phaseHeld.String())
	}
}

func TestStatus_Cooperating(t *testing.T) {
	for _, s := range []Status{StatusManaged, StatusTrusted} {
		if !s.cooperating() {
			t.Fatalf("%v should cooperate", s)
		}
	}
	for _, s := range []Status{StatusCreated, StatusForeign, StatusBarrier} {
		if s.cooperating() {
			t.Fatalf("%v should not cooperate", s)
		}
	}
}
