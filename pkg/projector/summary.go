package projector

import (
	"github.com/montanaflynn/stats"

	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
)

// BugSummary aggregates a bug list for the saved-bugs header and CLI.
type BugSummary struct {
	Count         int            `json:"count"`
	MeanImpact    float64        `json:"mean_impact"`
	MedianImpact  float64        `json:"median_impact"`
	MaxImpact     int            `json:"max_impact"`
	AffectedUsers int            `json:"affected_users"`
	ByBucket      map[Bucket]int `json:"by_bucket"`
}

// SummarizeBugs computes count, impact statistics, the sum of known
// affected users and per-bucket counts. An empty list yields zero values.
func SummarizeBugs(bugs []model.BugRecord) BugSummary {
	sum := BugSummary{
		Count: len(bugs),
		ByBucket: map[Bucket]int{
			BucketCritical:    0,
			BucketHigh:        0,
			BucketOpportunity: 0,
		},
	}
	if len(bugs) == 0 {
		return sum
	}

	scores := make(stats.Float64Data, 0, len(bugs))
	users := make(stats.Float64Data, 0, len(bugs))
	for _, b := range bugs {
		scores = append(scores, float64(b.ImpactScore))
		if b.AffectedUsers != nil {
			users = append(users, float64(*b.AffectedUsers))
		}
		sum.ByBucket[BucketFor(b.ImpactScore)]++
	}

	if v, err := scores.Mean(); err == nil {
		sum.MeanImpact = v
	}
	if v, err := scores.Median(); err == nil {
		sum.MedianImpact = v
	}
	if v, err := scores.Max(); err == nil {
		sum.MaxImpact = int(v)
	}
	if v, err := users.Sum(); err == nil {
		sum.AffectedUsers = int(v)
	}
	return sum
}
