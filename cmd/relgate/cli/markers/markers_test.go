package markers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetClear(t *testing.T) {
	s := NewStoreAt(t.TempDir())

	m, err := s.Get(ValidationRequired)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m != nil {
		t.Fatalf("Get() on empty store = %+v, want nil", m)
	}

	if err := s.Set(ValidationRequired, ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	m, err = s.Get(ValidationRequired)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m == nil {
		t.Fatal("Get() after Set() = nil")
	}
	if m.Kind != ValidationRequired {
		t.Errorf("Kind = %q, want %q", m.Kind, ValidationRequired)
	}
	if m.SetAt.IsZero() {
		t.Error("SetAt not populated")
	}

	if err := s.Clear(ValidationRequired); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	m, err = s.Get(ValidationRequired)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m != nil {
		t.Errorf("Get() after Clear() = %+v, want nil", m)
	}

	// Clearing again is not an error
	if err := s.Clear(ValidationRequired); err != nil {
		t.Errorf("Clear() of absent marker error = %v", err)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := NewStoreAt(t.TempDir())

	if err := s.Set(ProblemModeActive, "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ProblemModeActive, "second"); err != nil {
		t.Fatal(err)
	}

	m, err := s.Get(ProblemModeActive)
	if err != nil {
		t.Fatal(err)
	}
	if m.Payload != "second" {
		t.Errorf("Payload = %q, want %q", m.Payload, "second")
	}

	// Only one file per kind
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("marker dir has %d entries, want 1", len(entries))
	}
}

func TestClearTransient(t *testing.T) {
	s := NewStoreAt(t.TempDir())

	for _, kind := range AllKinds {
		if err := s.Set(kind, ""); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ClearTransient(); err != nil {
		t.Fatalf("ClearTransient() error = %v", err)
	}

	for _, kind := range TransientKinds {
		set, err := s.Has(kind)
		if err != nil {
			t.Fatal(err)
		}
		if set {
			t.Errorf("transient marker %s still set after ClearTransient()", kind)
		}
	}

	// Autonomous session marker survives a new user message
	set, err := s.Has(AutonomousSessionActive)
	if err != nil {
		t.Fatal(err)
	}
	if !set {
		t.Error("AutonomousSessionActive cleared by ClearTransient()")
	}
}

func TestAny(t *testing.T) {
	s := NewStoreAt(t.TempDir())

	any, err := s.Any()
	if err != nil {
		t.Fatal(err)
	}
	if any {
		t.Error("Any() on empty store = true")
	}

	if err := s.Set(ReflectionRequested, ""); err != nil {
		t.Fatal(err)
	}
	any, err = s.Any()
	if err != nil {
		t.Fatal(err)
	}
	if !any {
		t.Error("Any() with marker set = false")
	}
}

func TestBumpAutonomousIteration(t *testing.T) {
	s := NewStoreAt(t.TempDir())

	// No marker set: no-op
	m, err := s.BumpAutonomousIteration()
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("BumpAutonomousIteration() without marker = %+v, want nil", m)
	}

	if err := s.Set(AutonomousSessionActive, ""); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= StaleIterations; i++ {
		m, err = s.BumpAutonomousIteration()
		if err != nil {
			t.Fatal(err)
		}
		if m == nil {
			t.Fatalf("iteration %d: marker dropped early", i)
		}
		if m.Iteration != i {
			t.Errorf("Iteration = %d, want %d", m.Iteration, i)
		}
	}

	// One past the staleness threshold drops the marker
	m, err = s.BumpAutonomousIteration()
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("stale marker not dropped: %+v", m)
	}
	set, err := s.Has(AutonomousSessionActive)
	if err != nil {
		t.Fatal(err)
	}
	if set {
		t.Error("stale autonomous marker still on disk")
	}
}

func TestBumpAutonomousIteration_ConfiguredLimit(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	s.MaxIterations = 2

	if err := s.Set(AutonomousSessionActive, ""); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		m, err := s.BumpAutonomousIteration()
		if err != nil {
			t.Fatal(err)
		}
		if m == nil {
			t.Fatalf("iteration %d: marker dropped before the configured limit", i)
		}
	}

	m, err := s.BumpAutonomousIteration()
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("after 3 bumps a limit of 2 should have dropped the marker, got %+v", m)
	}
	set, err := s.Has(AutonomousSessionActive)
	if err != nil {
		t.Fatal(err)
	}
	if set {
		t.Error("marker past the configured limit still on disk")
	}
}

func TestNewStoreValidatesSessionID(t *testing.T) {
	if _, err := NewStore(t.TempDir(), "../evil"); err == nil {
		t.Error("NewStore() should reject session IDs with path separators")
	}
}

func TestMarkerFileIsJSON(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	if err := s.Set(ProblemModeActive, "cannot reach database"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), string(ProblemModeActive)+".json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		t.Error("marker file should end with a newline")
	}
}
