package vigil

// Severity is the canonical severity vocabulary for vulnerabilities and
// advisories.
type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// SeverityFromCVSS buckets a CVSS base score. A nil score maps to Medium;
// the bucketing is monotonic non-decreasing in the score.
func SeverityFromCVSS(score *float64) Severity {
	switch {
	case score == nil:
		return Medium
	case *score >= 9:
		return Critical
	case *score >= 7:
		return High
	case *score >= 4:
		return Medium
	default:
		return Low
	}
}

// Confidence is the canonical confidence vocabulary for IOCs.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFromScore buckets a 0..100 numeric confidence.
func ConfidenceFromScore(n int) Confidence {
	switch {
	case n >= 75:
		return ConfidenceHigh
	case n >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
