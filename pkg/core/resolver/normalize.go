package resolver

import "strings"

// legalSuffixes are entity-type tokens stripped from the end of a name
// before matching. Order does not matter; stripping repeats until the
// trailing token is not in the set.
var legalSuffixes = map[string]bool{
	"INC":         true,
	"CORP":        true,
	"CORPORATION": true,
	"COMPANY":     true,
	"PLC":         true,
	"LTD":         true,
	"GROUP":       true,
}

// companyTokens mark a name as plausibly belonging to a public company.
// Rows whose names carry none of these are skipped before any fuzzy
// matching, which cuts the bulk of wasted scoring against government
// agencies and individuals.
var companyTokens = []string{"INC", "CORP", "PLC", "LTD", "CO", "GROUP", "COMPANY", "HOLDINGS"}

// Normalize canonicalizes an organization name for registry matching:
// uppercase, punctuation removed, whitespace collapsed, trailing legal
// suffixes stripped. Normalize(Normalize(s)) == Normalize(s) for all s.
func Normalize(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.NewReplacer(",", " ", ".", " ", "'", "").Replace(upper)

	tokens := strings.Fields(upper)
	for len(tokens) > 0 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// LooksCorporate reports whether a raw name contains at least one
// company-style token and is therefore worth resolving.
func LooksCorporate(name string) bool {
	tokens := strings.Fields(strings.ToUpper(strings.NewReplacer(",", " ", ".", " ").Replace(name)))
	for _, t := range tokens {
		for _, ct := range companyTokens {
			if t == ct {
				return true
			}
		}
	}
	return false
}
