package projector

import "github.com/greg-hellings/bugnosis-desktop/pkg/model"

// XPFraction is XP / NextLevelXP clamped to [0,1]. A non-positive
// denominator yields 0.
func XPFraction(p model.Progress) float64 {
	if p.NextLevelXP <= 0 {
		return 0
	}
	f := float64(p.XP) / float64(p.NextLevelXP)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

var rankTitles = []struct {
	minLevel int
	title    string
}{
	{20, "Open Source Champion"},
	{10, "Impact Engineer"},
	{5, "Bug Hunter"},
	{0, "Novice Debugger"},
}

// RankTitle names a level.
func RankTitle(level int) string {
	for _, r := range rankTitles {
		if level >= r.minLevel {
			return r.title
		}
	}
	return rankTitles[len(rankTitles)-1].title
}
