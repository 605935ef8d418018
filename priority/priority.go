// Package priority scores incoming mail with deterministic rules. The
// detector is a pure function of the item and the configuration so the
// same message always lands on the same side of the immediate threshold.
package priority

import (
	"strings"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/types"
)

// Detector scores work items against configured sender domains and
// urgency keywords.
type Detector struct {
	cfg config.PriorityConfig
}

// NewDetector builds a detector from configuration.
func NewDetector(cfg config.PriorityConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Score computes the priority score for an item, clamped to [0, 100].
// A matching sender domain and a matching urgency keyword each count
// once, regardless of how often they occur.
func (d *Detector) Score(item types.WorkItem) int {
	score := 0
	if d.matchesDomain(item.Sender) {
		score += d.cfg.DomainWeight
	}
	if d.matchesKeyword(item.Subject) || d.matchesKeyword(item.BodyPreview) {
		score += d.cfg.KeywordWeight
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Immediate reports whether the score clears the immediate-notification
// threshold.
func (d *Detector) Immediate(score int) bool {
	return score >= d.cfg.Threshold
}

func (d *Detector) matchesDomain(sender string) bool {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSuffix(sender[at+1:], ">"))
	for _, hp := range d.cfg.HighPriorityDomains {
		if domain == strings.ToLower(hp) {
			return true
		}
	}
	return false
}

func (d *Detector) matchesKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range d.cfg.UrgencyKeywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
