package projector

import (
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
)

// StatCard is one dashboard counter.
type StatCard struct {
	Label string
	Value string
}

// BugRow is a bug record prepared for display.
type BugRow struct {
	Key         string
	Repository  string
	IssueNumber *int
	Title       string
	URL         string
	Score       int
	Bucket      Bucket
	BucketLabel string
	Users       string
	Severity    string
	Comments    int
	Reactions   int
}

// Dashboard is everything a front end renders.
type Dashboard struct {
	Status   Status
	Headline string

	// Cards is empty when no stats snapshot exists.
	Cards []StatCard

	Bugs          []BugRow
	SavedFallback string
	Summary       BugSummary

	WatchedCount int

	Level       int
	Rank        string
	XP          int
	NextLevelXP int
	XPFraction  float64
}

// Project derives a Dashboard from a snapshot.
func (f *Formatter) Project(s orchestrator.Snapshot) Dashboard {
	status := ClassifyStatus(s.ScanResult)
	d := Dashboard{
		Status:        status,
		Headline:      status.Headline(),
		Cards:         f.StatCards(s.Stats),
		Bugs:          f.BugRows(s.SavedBugs.Bugs),
		SavedFallback: s.SavedBugs.Fallback,
		Summary:       SummarizeBugs(s.SavedBugs.Bugs),
		WatchedCount:  len(s.WatchedRepos),
		Level:         s.Progress.Level,
		Rank:          RankTitle(s.Progress.Level),
		XP:            s.Progress.XP,
		NextLevelXP:   s.Progress.NextLevelXP,
		XPFraction:    XPFraction(s.Progress),
	}
	return d
}

// StatCards renders the four counters. Users are grouped, the rest are
// plain digits. A nil snapshot yields no cards.
func (f *Formatter) StatCards(st *model.StatsSnapshot) []StatCard {
	if st == nil {
		return nil
	}
	return []StatCard{
		{Label: "Bugs Tracked", Value: f.Plain(st.TotalBugs)},
		{Label: "Contributions", Value: f.Plain(st.TotalContributions)},
		{Label: "Users Helped", Value: f.Users(st.TotalUsers)},
		{Label: "Avg Impact", Value: f.Plain(st.AverageImpact) + "/100"},
	}
}

// BugRows prepares records for display, preserving order.
func (f *Formatter) BugRows(bugs []model.BugRecord) []BugRow {
	rows := make([]BugRow, 0, len(bugs))
	for i, b := range bugs {
		bucket := BucketFor(b.ImpactScore)
		rows = append(rows, BugRow{
			Key:         b.Key(i),
			Repository:  b.Repository,
			IssueNumber: b.IssueNumber,
			Title:       b.Title,
			URL:         b.URL,
			Score:       b.ImpactScore,
			Bucket:      bucket,
			BucketLabel: bucket.Label(),
			Users:       f.OptionalUsers(b.AffectedUsers),
			Severity:    f.Severity(b.Severity),
			Comments:    b.Comments,
			Reactions:   b.Reactions,
		})
	}
	return rows
}
