package projector

// Bucket is the display emphasis for a bug's impact score.
type Bucket string

const (
	BucketCritical    Bucket = "critical"
	BucketHigh        Bucket = "high"
	BucketOpportunity Bucket = "opportunity"
)

// BucketFor maps a score: >= 90 critical, 80..89 high, anything lower is an
// opportunity.
func BucketFor(score int) Bucket {
	switch {
	case score >= 90:
		return BucketCritical
	case score >= 80:
		return BucketHigh
	default:
		return BucketOpportunity
	}
}

// Label is the badge text.
func (b Bucket) Label() string {
	switch b {
	case BucketCritical:
		return "Critical Impact"
	case BucketHigh:
		return "High Impact"
	default:
		return "Opportunity"
	}
}
