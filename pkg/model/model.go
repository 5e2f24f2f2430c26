// Package model defines the typed state the desktop front end builds from
// backend output: bug findings, dashboard counters and request bookkeeping.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the backend's severity label. Comparison is case-insensitive.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// ParseSeverity normalizes a raw label. Unrecognized labels map to SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Equal reports whether two severities match ignoring case.
func (s Severity) Equal(other Severity) bool {
	return strings.EqualFold(string(s), string(other))
}

// BugRecord is one actionable finding reported by the backend.
type BugRecord struct {
	Repository    string   `json:"repo"`
	IssueNumber   *int     `json:"issue_number,omitempty"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	ImpactScore   int      `json:"impact_score"`
	AffectedUsers *int     `json:"affected_users,omitempty"`
	Severity      Severity `json:"severity"`
	Comments      int      `json:"comments,omitempty"`
	Reactions     int      `json:"reactions,omitempty"`
}

// Key returns the list identity of the record: repository plus issue number
// when the issue number is known, the positional index otherwise.
func (b BugRecord) Key(index int) string {
	if b.IssueNumber != nil {
		return fmt.Sprintf("%s#%d", b.Repository, *b.IssueNumber)
	}
	return fmt.Sprintf("#%d", index)
}

// StatsSnapshot holds the dashboard counters. A snapshot is either complete
// or absent (nil); partial snapshots are never built.
type StatsSnapshot struct {
	TotalBugs          int `json:"total_bugs"`
	TotalContributions int `json:"total_contributions"`
	TotalUsers         int `json:"total_users"`
	AverageImpact      int `json:"avg_impact"`
}

// Theme is the persisted UI colour variant.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme maps absent or unrecognized values to ThemeLight.
func ParseTheme(s string) Theme {
	if Theme(strings.ToLower(strings.TrimSpace(s))) == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// Toggle returns the opposite variant.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Progress carries gamification values supplied to the UI. Nothing in this
// module awards XP; these values are display input only.
type Progress struct {
	Level       int `json:"level" yaml:"level"`
	XP          int `json:"xp" yaml:"xp"`
	NextLevelXP int `json:"next_level_xp" yaml:"nextLevelXP"`
}

// Action names one logical request kind. Each action has its own
// single-in-flight guard.
type Action string

const (
	ActionScan         Action = "scan"
	ActionAddWatch     Action = "addWatch"
	ActionScanWatched  Action = "scanWatched"
	ActionLoadSaved    Action = "loadSaved"
	ActionLoadInsights Action = "loadInsights"
	ActionLoadStats    Action = "loadStats"
	ActionLoadWatched  Action = "loadWatched"
)

// Actions lists every logical action in display order.
var Actions = []Action{
	ActionScan,
	ActionAddWatch,
	ActionScanWatched,
	ActionLoadSaved,
	ActionLoadInsights,
	ActionLoadStats,
	ActionLoadWatched,
}

// RequestState is the bookkeeping kept per logical action.
type RequestState struct {
	InFlight      bool
	LastError     string
	LastRawResult string
	Seq           uint64
	RequestID     string
	StartedAt     time.Time
	SettledAt     time.Time
}
