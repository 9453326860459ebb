package scoring

import (
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"kvk-tracker/internal/domain"
)

// StreakTier grants Bonus to any streak of at least MinLength.
type StreakTier struct {
	MinLength int     `yaml:"min_length"`
	Bonus     float64 `yaml:"bonus"`
}

// ExperienceStep applies Multiplier from MinEvents total events upward.
type ExperienceStep struct {
	MinEvents  int     `yaml:"min_events"`
	Multiplier float64 `yaml:"multiplier"`
}

// Calibration is every constant of one formula version.
type Calibration struct {
	Version  string  `yaml:"version"`
	MinScore float64 `yaml:"min_score"`
	MaxScore float64 `yaml:"max_score"`

	PriorWins    float64 `yaml:"prior_wins"`
	PriorLosses  float64 `yaml:"prior_losses"`
	PhaseAWeight float64 `yaml:"phase_a_weight"`
	PhaseBWeight float64 `yaml:"phase_b_weight"`
	WinRateScale float64 `yaml:"win_rate_scale"`

	DominationWeight float64 `yaml:"domination_weight"`
	InvasionWeight   float64 `yaml:"invasion_weight"`
	PatternPrior     float64 `yaml:"pattern_prior"`
	PatternPriorN    float64 `yaml:"pattern_prior_n"`

	RecentWeights []float64                  `yaml:"recent_weights"`
	OutcomeValues map[domain.Outcome]float64 `yaml:"outcome_values"`
	RecentScale   float64                    `yaml:"recent_scale"`

	StreakTiers      []StreakTier `yaml:"streak_tiers"`
	LossStreakFactor float64      `yaml:"loss_streak_factor"`
	BestStreakFactor float64      `yaml:"best_streak_factor"`

	Experience []ExperienceStep `yaml:"experience"`
}

// Window is the maximum number of recent outcomes the calibration reads.
func (c Calibration) Window() int {
	return len(c.RecentWeights)
}

// Validate rejects calibrations that could produce non-finite or
// non-monotone scores.
func (c Calibration) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("calibration: version is required")
	}
	if !(c.MinScore < c.MaxScore) {
		return fmt.Errorf("calibration %s: min_score %v must be below max_score %v", c.Version, c.MinScore, c.MaxScore)
	}
	if c.PriorWins < 0 || c.PriorLosses < 0 || c.PatternPrior < 0 || c.PatternPriorN < 0 {
		return fmt.Errorf("calibration %s: priors must be non-negative", c.Version)
	}
	if c.PhaseAWeight < 0 || c.PhaseBWeight < 0 || c.PhaseAWeight+c.PhaseBWeight == 0 {
		return fmt.Errorf("calibration %s: phase weights must be non-negative and not both zero", c.Version)
	}
	if len(c.RecentWeights) == 0 {
		return fmt.Errorf("calibration %s: recent_weights is empty", c.Version)
	}
	for _, w := range c.RecentWeights {
		if w <= 0 {
			return fmt.Errorf("calibration %s: recent weight %v must be positive", c.Version, w)
		}
	}
	for _, o := range []domain.Outcome{domain.Domination, domain.Invasion, domain.Comeback, domain.Reversal} {
		if _, ok := c.OutcomeValues[o]; !ok {
			return fmt.Errorf("calibration %s: missing outcome value for %s", c.Version, o)
		}
	}
	if !slices.IsSortedFunc(c.StreakTiers, func(a, b StreakTier) int { return a.MinLength - b.MinLength }) {
		return fmt.Errorf("calibration %s: streak tiers must be sorted by min_length", c.Version)
	}
	if len(c.Experience) == 0 || c.Experience[0].MinEvents != 0 {
		return fmt.Errorf("calibration %s: experience table must start at 0 events", c.Version)
	}
	for i := 1; i < len(c.Experience); i++ {
		prev, cur := c.Experience[i-1], c.Experience[i]
		if cur.MinEvents <= prev.MinEvents {
			return fmt.Errorf("calibration %s: experience steps must have increasing min_events", c.Version)
		}
		if cur.Multiplier < prev.Multiplier {
			return fmt.Errorf("calibration %s: experience multiplier decreases at %d events", c.Version, cur.MinEvents)
		}
	}
	for _, v := range []float64{c.WinRateScale, c.DominationWeight, c.InvasionWeight, c.RecentScale, c.LossStreakFactor, c.BestStreakFactor} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("calibration %s: non-finite constant", c.Version)
		}
	}
	return nil
}

type calibrationFile struct {
	Calibrations []Calibration `yaml:"calibrations"`
}

// LoadCalibrations reads extra formula versions from a YAML file.
func LoadCalibrations(path string) ([]Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var file calibrationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}

	for _, c := range file.Calibrations {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Calibrations, nil
}

var defaultOutcomeValues = map[domain.Outcome]float64{
	domain.Domination: 1.0,
	domain.Comeback:   0.5,
	domain.Reversal:   0.25,
	domain.Invasion:   -0.5,
}

var defaultStreakTiers = []StreakTier{
	{MinLength: 2, Bonus: 0.5},
	{MinLength: 3, Bonus: 1.0},
	{MinLength: 5, Bonus: 1.5},
	{MinLength: 8, Bonus: 2.0},
}

// V1 is the first production calibration: raw win rates, a linear
// experience ramp and a range that allows small negative scores.
var V1 = Calibration{
	Version:          "v1",
	MinScore:         -2,
	MaxScore:         16,
	PhaseAWeight:     0.3,
	PhaseBWeight:     0.7,
	WinRateScale:     10,
	DominationWeight: 3.0,
	InvasionWeight:   2.0,
	PatternPriorN:    0,
	RecentWeights:    []float64{1.0, 0.9, 0.8, 0.7, 0.6},
	OutcomeValues:    defaultOutcomeValues,
	RecentScale:      2.0,
	StreakTiers:      defaultStreakTiers,
	LossStreakFactor: 1.0,
	BestStreakFactor: 0.25,
	Experience: []ExperienceStep{
		{0, 0}, {1, 0.2}, {2, 0.4}, {3, 0.6}, {4, 0.8}, {5, 1.0},
	},
}

var V2 = Calibration{
	Version:          "v2",
	MinScore:         0,
	MaxScore:         15,
	PriorWins:        1,
	PriorLosses:      1,
	PhaseAWeight:     0.3,
	PhaseBWeight:     0.7,
	WinRateScale:     10,
	DominationWeight: 3.0,
	InvasionWeight:   2.0,
	PatternPrior:     1,
	PatternPriorN:    2,
	RecentWeights:    []float64{1.0, 0.9, 0.8, 0.7, 0.6},
	OutcomeValues:    defaultOutcomeValues,
	RecentScale:      2.0,
	StreakTiers:      defaultStreakTiers,
	LossStreakFactor: 1.0,
	BestStreakFactor: 0.25,
	Experience: []ExperienceStep{
		{0, 0}, {1, 0.3}, {2, 0.5}, {3, 0.65}, {4, 0.8}, {5, 0.9}, {7, 1.0},
	},
}

// V3 is the canonical calibration: Bayesian smoothing toward 50%, a steep
// low-experience ramp with a small tenure bonus, and a [0, 15] range.
var V3 = Calibration{
	Version:          "v3",
	MinScore:         0,
	MaxScore:         15,
	PriorWins:        2,
	PriorLosses:      2,
	PhaseAWeight:     0.3,
	PhaseBWeight:     0.7,
	WinRateScale:     10,
	DominationWeight: 3.0,
	InvasionWeight:   2.0,
	PatternPrior:     1,
	PatternPriorN:    4,
	RecentWeights:    []float64{1.0, 0.9, 0.8, 0.7, 0.6},
	OutcomeValues:    defaultOutcomeValues,
	RecentScale:      2.0,
	StreakTiers:      defaultStreakTiers,
	LossStreakFactor: 1.0,
	BestStreakFactor: 0.25,
	Experience: []ExperienceStep{
		{0, 0}, {1, 0.40}, {2, 0.55}, {3, 0.70}, {4, 0.85}, {5, 0.95},
		{6, 1.00}, {15, 1.03}, {25, 1.05},
	},
}
