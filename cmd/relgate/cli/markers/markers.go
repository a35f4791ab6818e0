// Package markers implements the session marker store: durable flags scoped
// to one agent session, persisted as JSON files so they survive across the
// short-lived hook processes that make up a session.
package markers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relgate/cli/cmd/relgate/cli/jsonutil"
	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

// Kind identifies a marker. At most one marker of a given kind exists at a
// time; setting a kind again overwrites the previous marker.
type Kind string

const (
	// ReflectionRequested records that the stop engine already issued its
	// one-shot task completion check for this round of work.
	ReflectionRequested Kind = "reflection_requested"

	// ProblemModeActive records that the agent declared a problem it cannot
	// solve without user input. While set, the policy engine locks out all
	// tools except writing the problem explanation.
	ProblemModeActive Kind = "problem_mode"

	// AutonomousSessionActive marks a long-running unattended session.
	// Its Iteration field counts stop attempts; past StaleIterations the
	// marker is considered abandoned and dropped.
	AutonomousSessionActive Kind = "autonomous_session"

	// ValidationRequired is set by the policy engine whenever the agent
	// modifies a file and is consumed by the stop engine's reflection and
	// quality gate checks.
	ValidationRequired Kind = "validation_required"
)

// AllKinds lists every marker kind.
var AllKinds = []Kind{ReflectionRequested, ProblemModeActive, AutonomousSessionActive, ValidationRequired}

// TransientKinds are cleared when a new user message arrives: a fresh prompt
// starts a fresh round of work, so stale gating state must not leak into it.
var TransientKinds = []Kind{ReflectionRequested, ProblemModeActive, ValidationRequired}

// StaleIterations is the number of stop cycles after which an autonomous
// session marker is considered abandoned.
const StaleIterations = 5

// Marker is a single persisted session flag.
type Marker struct {
	Kind    Kind      `json:"kind"`
	SetAt   time.Time `json:"set_at"`
	Payload string    `json:"payload,omitempty"`

	// Iteration counts stop attempts for AutonomousSessionActive markers.
	Iteration int `json:"iteration,omitempty"`
}

// Store reads and writes markers for one session.
// Hook invocations for a session are serialized by the host, so atomic file
// writes are the only concurrency discipline needed.
type Store struct {
	dir string

	// MaxIterations overrides StaleIterations when positive. Set from the
	// autonomous config section by the stop hook.
	MaxIterations int
}

// NewStore creates a marker store rooted at the session's tmp directory.
// The session ID is validated because it becomes a path component.
func NewStore(repoRoot, sessionID string) (*Store, error) {
	if err := paths.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("marker store: %w", err)
	}
	return &Store{dir: paths.SessionTmpDir(repoRoot, sessionID)}, nil
}

// NewStoreAt creates a marker store at an explicit directory.
// Used by tests to run against independent stores.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory backing this store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) markerFile(kind Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

// Set writes a marker of the given kind, overwriting any existing one.
func (s *Store) Set(kind Kind, payload string) error {
	return s.SetMarker(Marker{Kind: kind, SetAt: time.Now().UTC(), Payload: payload})
}

// SetMarker writes a fully populated marker, overwriting any existing one of
// the same kind. The write is atomic (temp file then rename) so a crashed
// hook never leaves a half-written marker behind.
func (s *Store) SetMarker(m Marker) error {
	if m.SetAt.IsZero() {
		m.SetAt = time.Now().UTC()
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling marker: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+string(m.Kind)+"_tmp_")
	if err != nil {
		return fmt.Errorf("creating temp marker file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp marker file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.markerFile(m.Kind)); err != nil {
		return fmt.Errorf("renaming marker file: %w", err)
	}

	return nil
}

// Get returns the marker of the given kind, or nil if it is not set.
func (s *Store) Get(kind Kind) (*Marker, error) {
	data, err := os.ReadFile(s.markerFile(kind)) //nolint:gosec // path is store dir + fixed kind name
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading marker %s: %w", kind, err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing marker %s: %w", kind, err)
	}
	if m.Kind == "" {
		m.Kind = kind
	}
	return &m, nil
}

// Has reports whether a marker of the given kind is set.
func (s *Store) Has(kind Kind) (bool, error) {
	m, err := s.Get(kind)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// Clear removes the marker of the given kind. Clearing an absent marker is
// not an error.
func (s *Store) Clear(kind Kind) error {
	err := os.Remove(s.markerFile(kind))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing marker %s: %w", kind, err)
	}
	return nil
}

// ClearTransient removes all transient markers. Called on user-prompt-submit
// so a new user message resets gating state.
func (s *Store) ClearTransient() error {
	for _, kind := range TransientKinds {
		if err := s.Clear(kind); err != nil {
			return err
		}
	}
	return nil
}

// Any reports whether any marker of any kind is set.
func (s *Store) Any() (bool, error) {
	for _, kind := range AllKinds {
		set, err := s.Has(kind)
		if err != nil {
			return false, err
		}
		if set {
			return true, nil
		}
	}
	return false, nil
}

// BumpAutonomousIteration increments the stop cycle counter on the
// autonomous session marker. Past the staleness limit (MaxIterations when
// positive, StaleIterations otherwise) the marker is dropped and (nil, nil)
// is returned, same as if it had never been set.
func (s *Store) BumpAutonomousIteration() (*Marker, error) {
	m, err := s.Get(AutonomousSessionActive)
	if err != nil || m == nil {
		return nil, err
	}

	limit := s.MaxIterations
	if limit <= 0 {
		limit = StaleIterations
	}

	m.Iteration++
	if m.Iteration > limit {
		if err := s.Clear(AutonomousSessionActive); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := s.SetMarker(*m); err != nil {
		return nil, err
	}
	return m, nil
}
