// Package rank maps cumulative XP to one of four ordered tiers.
package rank

// Rank is a tier name as stored on profiles.
type Rank string

// Tiers in ascending order.
const (
	JJC      Rank = "JJC"
	Learner  Rank = "Learner"
	Chairman Rank = "Chairman"
	Odogwu   Rank = "Odogwu"
)

// Tier thresholds.
const (
	LearnerXP  = 100
	ChairmanXP = 500
	OdogwuXP   = 1000
)

// All lists the tiers from lowest to highest.
var All = []Rank{JJC, Learner, Chairman, Odogwu}

// Of returns the tier for xp. Negative xp counts as zero.
func Of(xp int) Rank {
	switch {
	case xp >= OdogwuXP:
		return Odogwu
	case xp >= ChairmanXP:
		return Chairman
	case xp >= LearnerXP:
		return Learner
	default:
		return JJC
	}
}

// Tier returns the zero-based position of r in All, or -1 if unknown.
func Tier(r Rank) int {
	for i, t := range All {
		if t == r {
			return i
		}
	}
	return -1
}

// CeilingFor returns the next tier boundary above xp. It stays at the top
// threshold once that is reached, so progress saturates instead of growing.
func CeilingFor(xp int) int {
	switch {
	case xp < LearnerXP:
		return LearnerXP
	case xp < ChairmanXP:
		return ChairmanXP
	default:
		return OdogwuXP
	}
}

// Progress is xp as a fraction of CeilingFor(xp), capped at 1.
func Progress(xp int) float64 {
	if xp < 0 {
		xp = 0
	}
	p := float64(xp) / float64(CeilingFor(xp))
	if p > 1 {
		return 1
	}
	return p
}
