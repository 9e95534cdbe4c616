package routing

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"AgentRouter/internal/catalog"
	"AgentRouter/internal/intent"
)

const (
	maxScore = 100.0

	alignmentCap          = 40.0
	keywordAlignment      = 8.0
	intentAlignment       = 10.0
	queryWordAlignment    = 5.0
	minQueryWordRunes     = 5
	domainPresenceBonus   = 15.0
	exactDomainBonus      = 20.0
	intentPassBonus       = 20.0
	expertiseKeywordBonus = 5.0
	expertiseLeadBonus    = 3.0
	expertiseLeadKeywords = 3
)

// Clamp bounds a score to [0,100].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > maxScore:
		return maxScore
	}
	return v
}

// TierBonus rewards senior handlers: tier 1 gets 10, tier 2 gets 5.
func TierBonus(tier int) float64 {
	switch tier {
	case 1:
		return 10
	case 2:
		return 5
	}
	return 0
}

// CapabilityAlignment measures how well a handler's capability strings fit
// the intent and query. Each capability earns 8 per intent keyword related to
// it by substring, 10 when it relates to the intent label, and 5 when it
// contains the query's longest word. The total is capped at 40.
func CapabilityAlignment(capabilities []string, in intent.Result, query string) float64 {
	label := strings.ToLower(strings.TrimSpace(in.Intent))
	word := longestWord(query)

	var score float64
	for _, capability := range capabilities {
		c := strings.ToLower(strings.TrimSpace(capability))
		if c == "" {
			continue
		}
		for _, keyword := range in.Keywords {
			k := strings.ToLower(strings.TrimSpace(keyword))
			if k == "" {
				continue
			}
			if strings.Contains(c, k) || strings.Contains(k, c) {
				score += keywordAlignment
			}
		}
		if label != "" && (strings.Contains(c, label) || strings.Contains(label, c)) {
			score += intentAlignment
		}
		if word != "" && strings.Contains(c, word) {
			score += queryWordAlignment
		}
	}
	if score > alignmentCap {
		return alignmentCap
	}
	return score
}

// BaseScore is used by the intent-keyed pass.
func BaseScore(h *catalog.Descriptor, in intent.Result, query string) float64 {
	score := CapabilityAlignment(h.Capabilities, in, query) + TierBonus(h.Tier)
	if in.HasDomain(h.Domain) {
		score += domainPresenceBonus
	}
	return Clamp(score)
}

// DomainScore is used by the domain-keyed pass for one of the intent's
// ranked domains.
func DomainScore(h *catalog.Descriptor, in intent.Result, query string, domain catalog.Domain) float64 {
	score := CapabilityAlignment(h.Capabilities, in, query) + TierBonus(h.Tier)
	if h.Domain == domain {
		score += exactDomainBonus
	}
	return Clamp(score)
}

// CapabilityScore is used by the global pass. Keywords found in the
// expertise summary earn 5 each; the first three keywords earn a further 3
// when found there.
func CapabilityScore(h *catalog.Descriptor, in intent.Result, query string) float64 {
	score := CapabilityAlignment(h.Capabilities, in, query) + TierBonus(h.Tier)

	expertise := strings.ToLower(h.Expertise)
	if expertise != "" {
		for _, keyword := range in.Keywords {
			k := strings.ToLower(strings.TrimSpace(keyword))
			if k != "" && strings.Contains(expertise, k) {
				score += expertiseKeywordBonus
			}
		}
		for i, keyword := range in.Keywords {
			if i >= expertiseLeadKeywords {
				break
			}
			k := strings.ToLower(strings.TrimSpace(keyword))
			if k != "" && strings.Contains(expertise, k) {
				score += expertiseLeadBonus
			}
		}
	}
	return Clamp(score)
}

// longestWord returns the longest word of the query, lower-cased, when it is
// longer than four characters. Ties keep the first occurrence.
func longestWord(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	var best string
	bestLen := 0
	for _, w := range words {
		if n := utf8.RuneCountInString(w); n > bestLen {
			best, bestLen = w, n
		}
	}
	if bestLen < minQueryWordRunes {
		return ""
	}
	return best
}
