// Package decision applies the deterministic guard on top of the model's
// investment recommendation.
package decision

import (
	"fmt"
	"strings"

	"github.com/kalambet/dealscope/internal/analysis"
)

// Apply downgrades an INVEST decision to PASS when any red flag is CRITICAL
// and records the count as the first concern. Severity and decision are
// compared case-insensitively; the returned decision is upper-case. rec and
// flags are never modified.
func Apply(rec analysis.Recommendation, flags []analysis.RedFlag) analysis.Recommendation {
	out := rec
	out.Decision = strings.ToUpper(strings.TrimSpace(rec.Decision))

	critical := analysis.CountSeverity(flags, "CRITICAL")
	if critical == 0 || out.Decision != analysis.DecisionInvest {
		return out
	}

	concerns := make([]string, 0, len(rec.KeyConcerns)+1)
	concerns = append(concerns, fmt.Sprintf("CRITICAL: %d critical red flags detected", critical))
	concerns = append(concerns, rec.KeyConcerns...)

	out.Decision = analysis.DecisionPass
	out.KeyConcerns = concerns
	return out
}
