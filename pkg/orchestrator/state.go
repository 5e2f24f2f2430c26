package orchestrator

import (
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/parse"
)

// DefaultMinImpact is the initial impact threshold.
const DefaultMinImpact = 70

// Tab names used by the front ends.
const (
	TabScan     = "scan"
	TabWatch    = "watch"
	TabSaved    = "saved"
	TabInsights = "insights"
)

// slice identifies a shared entity slice of the state container. Responses
// are committed to a slice only when they carry its latest issued sequence.
type slice int

const (
	sliceScanResult slice = iota
	sliceStats
	sliceWatched
	sliceSaved
	sliceInsights
)

// Snapshot is a point-in-time copy of the state container. It is safe to
// read and retain without synchronization.
type Snapshot struct {
	// Version increases with every state change.
	Version uint64

	RepoInput string
	MinImpact int
	ActiveTab string
	Theme     model.Theme
	Progress  model.Progress

	ScanResult   string
	Stats        *model.StatsSnapshot
	WatchedRepos []string
	SavedBugs    parse.BugListResult
	Insights     string

	Requests map[model.Action]model.RequestState
}

// InFlight reports whether the action is awaiting its response.
func (s Snapshot) InFlight(a model.Action) bool {
	return s.Requests[a].InFlight
}

// LastError returns the display error of the action's last run.
func (s Snapshot) LastError(a model.Action) string {
	return s.Requests[a].LastError
}

func newSnapshot(theme model.Theme, minImpact int) Snapshot {
	reqs := make(map[model.Action]model.RequestState, len(model.Actions))
	for _, a := range model.Actions {
		reqs[a] = model.RequestState{}
	}
	return Snapshot{
		MinImpact:    clampImpact(minImpact),
		ActiveTab:    TabScan,
		Theme:        theme,
		Progress:     model.Progress{Level: 1, NextLevelXP: 100},
		WatchedRepos: []string{},
		SavedBugs:    parse.BugListResult{Kind: parse.Structured, Bugs: []model.BugRecord{}},
		Requests:     reqs,
	}
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Stats != nil {
		st := *s.Stats
		out.Stats = &st
	}
	out.WatchedRepos = append([]string(nil), s.WatchedRepos...)
	out.SavedBugs.Bugs = append([]model.BugRecord(nil), s.SavedBugs.Bugs...)
	out.Requests = make(map[model.Action]model.RequestState, len(s.Requests))
	for k, v := range s.Requests {
		out.Requests[k] = v
	}
	return out
}

func clampImpact(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}
