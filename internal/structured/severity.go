package structured

import "strings"

// Severity levels used by red flags.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// severityKeywords is checked in order; the first matching level wins.
var severityKeywords = []struct {
	severity string
	keywords []string
}{
	{SeverityCritical, []string{"critical", "severe", "major concern", "deal breaker"}},
	{SeverityHigh, []string{"high risk", "significant", "serious"}},
	{SeverityMedium, []string{"moderate", "concerning", "noteworthy"}},
	{SeverityLow, []string{"minor", "small", "slight"}},
}

// SeverityHit is one line of model output that mentions a risk keyword.
type SeverityHit struct {
	Severity string
	Line     string
}

// ScanSeverity classifies each line of text by the first severity whose
// keywords it contains. Lines without a keyword are skipped.
func ScanSeverity(text string) []SeverityHit {
	var hits []SeverityHit
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, level := range severityKeywords {
			if containsAny(lower, level.keywords) {
				hits = append(hits, SeverityHit{Severity: level.severity, Line: line})
				break
			}
		}
	}
	return hits
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
