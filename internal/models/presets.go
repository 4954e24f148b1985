package models

import "strings"

// Preset is a named workout from the built-in library.
type Preset struct {
	Type       string               `json:"type"`
	Difficulty string               `json:"difficulty"`
	Focus      string               `json:"focus"`
	Config     SessionConfiguration `json:"config"`
}

func preset(name, typ, difficulty, focus string, distance, reps, restSeconds int, v Variation, phases PhaseSet) Preset {
	return Preset{
		Type:       typ,
		Difficulty: difficulty,
		Focus:      focus,
		Config: SessionConfiguration{
			Name:          name,
			DistanceUnits: distance,
			RepCount:      reps,
			RestSeconds:   restSeconds,
			Variation:     v,
			PhasesEnabled: phases,
		},
	}
}

// Presets is the built-in library, easiest first.
var Presets = []Preset{
	preset("20 Yard Acceleration Builder", "Acceleration Training", "Beginner",
		"First step quickness and acceleration technique",
		20, 10, 60, VariationAcceleration, AllOptionalPhases),
	preset("30 Yard Speed Foundation", "Speed Training", "Beginner",
		"Speed endurance and proper running form",
		30, 8, 120, VariationStandard, AllOptionalPhases),
	preset("40 Yard Speed Development", "Speed Training", "Intermediate",
		"Maximum velocity and acceleration power",
		40, 6, 120, VariationStandard, AllOptionalPhases),
	preset("10 Yard Start Intervals", "Interval Training", "Intermediate",
		"Repeated explosive starts with short recovery",
		10, 12, 30, VariationIntervals, VariationIntervals.DefaultPhases()),
	preset("60 Yard Flying Sprints", "Max Velocity Training", "Advanced",
		"Top-end speed and velocity maintenance",
		60, 4, 240, VariationFlying, NewPhaseSet(PhaseWarmup, PhaseStretch, PhaseStrides, PhaseCooldown)),
	preset("80 Yard Speed Endurance", "Speed Endurance", "Advanced",
		"Holding form and speed under fatigue",
		80, 5, 180, VariationEndurance, AllOptionalPhases),
}

// FindPreset looks up a preset by name, case-insensitively.
func FindPreset(name string) (Preset, bool) {
	for _, p := range Presets {
		if strings.EqualFold(p.Config.Name, name) {
			return p, true
		}
	}
	return Preset{}, false
}
