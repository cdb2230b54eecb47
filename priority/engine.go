package priority

import (
	"strings"
)

// Tier is the urgency assigned to an issue. Map markers and list badges
// key off these exact values.
type Tier string

const (
	High   Tier = "high"
	Medium Tier = "medium"
	Low    Tier = "low"
)

// Reasons paired with each rule.
const (
	ReasonSafetyCritical  = "safety-critical category"
	ReasonCommunityBacked = "high community validation"
	ReasonLowUrgency      = "low-urgency category"
	ReasonStandardQueue   = "standard review queue"
)

// CommunityThreshold is the upvote count an issue must exceed to be
// escalated by the crowd alone.
const CommunityThreshold = 50

var (
	highKeywords = []string{"danger", "hazard", "urgent", "electrical", "fire", "flood"}
	lowKeywords  = []string{"graffiti", "suggestion", "litter", "noise"}
)

// Compute returns the tier and justification for an issue with the given
// category and upvote count. Rules are evaluated in order and the first
// match wins, so a safety keyword beats the crowd and the crowd beats a
// low-urgency keyword.
func Compute(category string, upvotes int) (Tier, string) {
	normalized := strings.ToLower(category)

	switch {
	case containsAny(normalized, highKeywords):
		return High, ReasonSafetyCritical
	case upvotes > CommunityThreshold:
		return High, ReasonCommunityBacked
	case containsAny(normalized, lowKeywords):
		return Low, ReasonLowUrgency
	default:
		return Medium, ReasonStandardQueue
	}
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

// Tiers lists every tier from most to least urgent.
func Tiers() []Tier {
	return []Tier{High, Medium, Low}
}

// Valid reports whether t is one of the three tiers.
func (t Tier) Valid() bool {
	switch t {
	case High, Medium, Low:
		return true
	}
	return false
}

// Weight orders tiers for sorting; higher is more urgent. Unknown values
// sort last.
func (t Tier) Weight() int {
	switch t {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}
