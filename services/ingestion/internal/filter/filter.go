package filter

import (
	"strings"
	"unicode"

	"jobwatch/services/ingestion/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

// Rules holds normalized exclusion sets. The zero value excludes nothing.
type Rules struct {
	companies mapset.Set[string]
	words     mapset.Set[string]
}

func NewRules(blockedCompanies, blockedWords []string) Rules {
	return Rules{
		companies: normalizedSet(blockedCompanies),
		words:     normalizedSet(blockedWords),
	}
}

func normalizedSet(items []string) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, item := range items {
		if n := models.Normalize(item); n != "" {
			s.Add(n)
		}
	}
	return s
}

func (r Rules) Empty() bool {
	return (r.companies == nil || r.companies.Cardinality() == 0) &&
		(r.words == nil || r.words.Cardinality() == 0)
}

type Reason string

const (
	ReasonCompany Reason = "blocked_company"
	ReasonWord    Reason = "blocked_word"
)

type Dropped struct {
	Listing models.Listing
	Reason  Reason
	Match   string
}

// Match reports why l is excluded, if it is.
func (r Rules) Match(l models.Listing) (Reason, string, bool) {
	if r.companies != nil {
		if c := models.Normalize(l.Company); r.companies.Contains(c) {
			return ReasonCompany, c, true
		}
	}
	if r.words != nil && r.words.Cardinality() > 0 {
		for _, tok := range Tokenize(l.Title) {
			if r.words.Contains(tok) {
				return ReasonWord, tok, true
			}
		}
	}
	return "", "", false
}

// Partition splits listings into kept and dropped, preserving order.
func Partition(listings []models.Listing, rules Rules) ([]models.Listing, []Dropped) {
	kept := make([]models.Listing, 0, len(listings))
	var dropped []Dropped
	for _, l := range listings {
		if reason, match, ok := rules.Match(l); ok {
			dropped = append(dropped, Dropped{Listing: l, Reason: reason, Match: match})
			continue
		}
		kept = append(kept, l)
	}
	return kept, dropped
}

func Apply(listings []models.Listing, rules Rules) []models.Listing {
	kept, _ := Partition(listings, rules)
	return kept
}

// Tokenize splits s into normalized word tokens: maximal runs of letters,
// digits and underscores.
func Tokenize(s string) []string {
	return strings.FieldsFunc(models.Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
