// Package parse turns raw backend payloads into typed front-end state.
//
// Every function here is pure and total: malformed input yields an absent
// or fallback result, never an error or a panic. The backend has emitted
// human-readable text in older releases and JSON in newer ones for the same
// operation, so callers always receive an explicit tagged outcome.
package parse

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
)

// Stats markers emitted by `bugnosis stats`.
const (
	MarkerBugs          = "Bugs tracked:"
	MarkerContributions = "Contributions:"
	MarkerUsers         = "Users helped:"
	MarkerImpact        = "Average impact:"
)

// ParseStats extracts the four dashboard counters. The snapshot is absent
// (nil, false) unless all four markers are present. Marker presence is
// checked before any number is parsed; a present marker whose value does not
// parse counts as 0.
func ParseStats(raw string) (*model.StatsSnapshot, bool) {
	lines := strings.Split(raw, "\n")

	bugs, ok1 := findMarkerLine(lines, MarkerBugs)
	contrib, ok2 := findMarkerLine(lines, MarkerContributions)
	users, ok3 := findMarkerLine(lines, MarkerUsers)
	impact, ok4 := findMarkerLine(lines, MarkerImpact)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, false
	}

	impactValue := valueAfterColon(impact)
	if i := strings.Index(impactValue, "/"); i >= 0 {
		impactValue = impactValue[:i]
	}

	return &model.StatsSnapshot{
		TotalBugs:          intOrZero(valueAfterColon(bugs)),
		TotalContributions: intOrZero(valueAfterColon(contrib)),
		TotalUsers:         intOrZero(strings.ReplaceAll(valueAfterColon(users), ",", "")),
		AverageImpact:      intOrZero(impactValue),
	}, true
}

func findMarkerLine(lines []string, marker string) (string, bool) {
	for _, l := range lines {
		if strings.Contains(l, marker) {
			return l, true
		}
	}
	return "", false
}

// valueAfterColon returns the segment between the first and second colon.
func valueAfterColon(line string) string {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// leadingInt parses the optional sign and leading digits of s, ignoring any
// trailing text ("12 bugs" is 12).
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func intOrZero(s string) int {
	n, ok := leadingInt(s)
	if !ok {
		return 0
	}
	return n
}

var listItem = regexp.MustCompile(`^\s*-`)

// ParseWatchedRepos returns the `-` prefixed items of a line-oriented list in
// their original order, one entry per item line. Headers and prose between
// items are ignored. Duplicates are kept, and so is an item that is empty
// once its markers are stripped (a bare "-" or a "---" rule).
func ParseWatchedRepos(raw string) []string {
	repos := []string{}
	for _, line := range strings.Split(raw, "\n") {
		if !listItem.MatchString(line) {
			continue
		}
		repos = append(repos, strings.TrimSpace(strings.TrimLeft(line, " \t\r-")))
	}
	return repos
}

// BugListKind tags the outcome of ParseBugList.
type BugListKind int

const (
	// Structured means the payload was a JSON array of records.
	Structured BugListKind = iota
	// RawFallback means the payload must be displayed verbatim.
	RawFallback
)

// BugListResult is either a structured list or a raw fallback, never both.
type BugListResult struct {
	Kind     BugListKind
	Bugs     []model.BugRecord
	Fallback string
}

// IsFallback reports whether the payload could not be read as a list.
func (r BugListResult) IsFallback() bool {
	return r.Kind == RawFallback
}

// ParseBugList reads a JSON array of bug records. Anything that is not a
// JSON array (an object, a scalar, plain text) produces an empty list and
// the original payload as fallback text.
func ParseBugList(raw string) BugListResult {
	var elems []json.RawMessage
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") || json.Unmarshal([]byte(trimmed), &elems) != nil {
		return BugListResult{Kind: RawFallback, Bugs: []model.BugRecord{}, Fallback: raw}
	}

	bugs := make([]model.BugRecord, 0, len(elems))
	for _, e := range elems {
		bugs = append(bugs, decodeRecord(e))
	}
	return BugListResult{Kind: Structured, Bugs: bugs}
}

// decodeRecord maps one array element onto a BugRecord field by field, so a
// malformed field only blanks that field.
func decodeRecord(msg json.RawMessage) model.BugRecord {
	var obj map[string]any
	if err := json.Unmarshal(msg, &obj); err != nil || obj == nil {
		return model.BugRecord{}
	}

	rec := model.BugRecord{
		Repository: stringField(obj, "repo"),
		Title:      stringField(obj, "title"),
		URL:        stringField(obj, "url"),
		Severity:   model.Severity(stringField(obj, "severity")),
	}
	if n, ok := intField(obj, "impact_score"); ok {
		rec.ImpactScore = clampScore(n)
	}
	if n, ok := intField(obj, "affected_users"); ok && n >= 0 {
		rec.AffectedUsers = &n
	}
	if n, ok := intField(obj, "issue_number"); ok {
		rec.IssueNumber = &n
	}
	if n, ok := intField(obj, "comments"); ok {
		rec.Comments = n
	}
	if n, ok := intField(obj, "reactions"); ok {
		rec.Reactions = n
	}
	return rec
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func intField(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case string:
		return leadingInt(v)
	default:
		return 0, false
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
