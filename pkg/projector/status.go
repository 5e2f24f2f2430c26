// Package projector derives presentation values from an orchestrator
// snapshot. Nothing here has side effects.
package projector

import "strings"

// Status is the scan banner state.
type Status string

const (
	StatusSecure  Status = "secure"
	StatusRisk    Status = "risk"
	StatusUnknown Status = "unknown"
)

// Phrases the backend prints at the end of a scan. Matching is
// case-insensitive. Secure phrases are checked first because the backend's
// "No high-impact bugs found." also contains the risk phrase.
var (
	securePhrases = []string{"no bugs found", "no high-impact bugs found"}
	riskPhrases   = []string{"high-impact bugs"}
)

// ClassifyStatus reads the scan banner state out of the backend's free-text
// scan summary. This is the only place that depends on backend wording.
func ClassifyStatus(scanResult string) Status {
	text := strings.ToLower(scanResult)
	if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "error:") {
		return StatusUnknown
	}
	for _, p := range securePhrases {
		if strings.Contains(text, p) {
			return StatusSecure
		}
	}
	for _, p := range riskPhrases {
		if strings.Contains(text, p) {
			return StatusRisk
		}
	}
	return StatusUnknown
}

// Headline is the banner text for a status.
func (s Status) Headline() string {
	switch s {
	case StatusSecure:
		return "No high-impact bugs detected"
	case StatusRisk:
		return "High-impact bugs detected"
	default:
		return "No scan results yet"
	}
}
