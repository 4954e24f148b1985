package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfiguration is returned when a SessionConfiguration cannot start a workout.
var ErrInvalidConfiguration = errors.New("invalid session configuration")

// Variation is the style of sprint workout.
type Variation string

const (
	VariationStandard     Variation = "standard"
	VariationIntervals    Variation = "intervals"
	VariationFlying       Variation = "flying"
	VariationAcceleration Variation = "acceleration"
	VariationEndurance    Variation = "endurance"
)

// Valid reports whether v is a known variation.
func (v Variation) Valid() bool {
	switch v {
	case VariationStandard, VariationIntervals, VariationFlying, VariationAcceleration, VariationEndurance:
		return true
	}
	return false
}

// DefaultPhases returns the optional phases a variation runs when the caller
// does not choose them explicitly.
func (v Variation) DefaultPhases() PhaseSet {
	switch v {
	case VariationIntervals, VariationAcceleration:
		return NewPhaseSet(PhaseWarmup, PhaseDrill, PhaseCooldown)
	case VariationFlying:
		return NewPhaseSet(PhaseWarmup, PhaseStretch, PhaseStrides, PhaseCooldown)
	default:
		return AllOptionalPhases
	}
}

// Phase is a stage of a workout.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseWarmup    Phase = "warmup"
	PhaseStretch   Phase = "stretch"
	PhaseDrill     Phase = "drill"
	PhaseStrides   Phase = "strides"
	PhaseSprintRep Phase = "sprint_rep"
	PhaseResting   Phase = "resting"
	PhaseCooldown  Phase = "cooldown"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// PreparatoryPhases are the optional phases before the first rep, in run order.
var PreparatoryPhases = []Phase{PhaseWarmup, PhaseStretch, PhaseDrill, PhaseStrides}

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// DisplayName is the heading shown while the phase is active.
func (p Phase) DisplayName() string {
	switch p {
	case PhaseWarmup:
		return "WARM-UP PHASE"
	case PhaseStretch:
		return "STRETCH PHASE"
	case PhaseDrill:
		return "ACTIVATION DRILLS"
	case PhaseStrides:
		return "BUILD-UP STRIDES"
	case PhaseSprintRep:
		return "CUSTOM SPRINTS"
	case PhaseResting:
		return "RECOVERY PHASE"
	case PhaseCooldown:
		return "COOL DOWN"
	case PhaseCompleted:
		return "WORKOUT COMPLETE"
	case PhaseCancelled:
		return "WORKOUT ENDED"
	}
	return "READY"
}

// NominalDuration is the planned length of an optional phase. Sprint reps and
// rest have no nominal duration (reps are measured, rest comes from the config).
func (p Phase) NominalDuration() time.Duration {
	switch p {
	case PhaseWarmup, PhaseStretch, PhaseCooldown:
		return 5 * time.Minute
	case PhaseDrill, PhaseStrides:
		return 6 * time.Minute
	}
	return 0
}

var optionalPhaseBits = map[Phase]PhaseSet{
	PhaseWarmup:   1 << 0,
	PhaseStretch:  1 << 1,
	PhaseDrill:    1 << 2,
	PhaseStrides:  1 << 3,
	PhaseCooldown: 1 << 4,
}

// PhaseSet is a set of the optional phases {warmup, stretch, drill, strides, cooldown}.
type PhaseSet uint8

// AllOptionalPhases enables every optional phase.
const AllOptionalPhases PhaseSet = 1<<5 - 1

// NewPhaseSet builds a set from phases; non-optional phases are ignored.
func NewPhaseSet(phases ...Phase) PhaseSet {
	var s PhaseSet
	for _, p := range phases {
		s |= optionalPhaseBits[p]
	}
	return s
}

// Has reports whether p is in the set.
func (s PhaseSet) Has(p Phase) bool {
	bit, ok := optionalPhaseBits[p]
	return ok && s&bit != 0
}

// Phases lists the members in run order.
func (s PhaseSet) Phases() []Phase {
	var out []Phase
	for _, p := range append(PreparatoryPhases, PhaseCooldown) {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// String joins the members with commas, e.g. "warmup,drill,cooldown".
func (s PhaseSet) String() string {
	names := make([]string, 0, 5)
	for _, p := range s.Phases() {
		names = append(names, string(p))
	}
	return strings.Join(names, ",")
}

// ParsePhaseSet parses the String form. "drills" is accepted for drill.
func ParsePhaseSet(v string) (PhaseSet, error) {
	var s PhaseSet
	for _, name := range strings.Split(v, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if name == "drills" {
			name = string(PhaseDrill)
		}
		bit, ok := optionalPhaseBits[Phase(name)]
		if !ok {
			return 0, fmt.Errorf("unknown phase %q", name)
		}
		s |= bit
	}
	return s, nil
}

// MarshalJSON encodes the set as a list of phase names.
func (s PhaseSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 5)
	for _, p := range s.Phases() {
		names = append(names, string(p))
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes a list of phase names.
func (s *PhaseSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParsePhaseSet(strings.Join(names, ","))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SessionConfiguration describes one workout. It is treated as immutable once
// handed to a session.
type SessionConfiguration struct {
	Name          string    `json:"name"`
	DistanceUnits int       `json:"distance_units"`
	RepCount      int       `json:"rep_count"`
	RestSeconds   int       `json:"rest_seconds"`
	Variation     Variation `json:"variation"`
	PhasesEnabled PhaseSet  `json:"phases_enabled"`
}

// NewConfiguration builds a configuration with the variation's default phases.
func NewConfiguration(name string, distance, reps, restSeconds int, v Variation) SessionConfiguration {
	return SessionConfiguration{
		Name:          name,
		DistanceUnits: distance,
		RepCount:      reps,
		RestSeconds:   restSeconds,
		Variation:     v,
		PhasesEnabled: v.DefaultPhases(),
	}
}

// Validate checks the invariants required before a session may begin.
func (c SessionConfiguration) Validate() error {
	if c.RepCount < 1 {
		return fmt.Errorf("%w: rep_count must be at least 1, got %d", ErrInvalidConfiguration, c.RepCount)
	}
	if c.RestSeconds < 0 {
		return fmt.Errorf("%w: rest_seconds must not be negative, got %d", ErrInvalidConfiguration, c.RestSeconds)
	}
	if c.DistanceUnits < 0 {
		return fmt.Errorf("%w: distance_units must not be negative, got %d", ErrInvalidConfiguration, c.DistanceUnits)
	}
	if c.Variation != "" && !c.Variation.Valid() {
		return fmt.Errorf("%w: unknown variation %q", ErrInvalidConfiguration, c.Variation)
	}
	return nil
}

// Rest returns the rest interval between reps.
func (c SessionConfiguration) Rest() time.Duration {
	return time.Duration(c.RestSeconds) * time.Second
}

// EstimatedMinutes approximates total workout length: ten minutes of
// preparation, the rep/rest block, and ten minutes of cooldown.
func (c SessionConfiguration) EstimatedMinutes() int {
	return 10 + c.RepCount*c.RestSeconds/60 + 10
}

// SessionID is the human-readable label used in logs and companion messages.
func (c SessionConfiguration) SessionID() string {
	return fmt.Sprintf("Pro-%dyd-%dreps", c.DistanceUnits, c.RepCount)
}
