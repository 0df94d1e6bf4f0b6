package config

import (
	"strings"
	"time"

	"jobwatch/services/ingestion/internal/models"
)

// Document is the user editable search configuration. It is re-read at the
// start of every cycle so edits take effect on the next cycle.
type Document struct {
	SearchTerms     []string `json:"search_terms" yaml:"search_terms"`
	Location        string   `json:"location" yaml:"location"`
	FilterCompanies []string `json:"filter_companies" yaml:"filter_companies"`
	FilterWords     []string `json:"filter_words" yaml:"filter_words"`
	IntervalRun     int      `json:"interval_run" yaml:"interval_run"`
	Proxies         []string `json:"proxies" yaml:"proxies"`
}

func DefaultDocument() Document {
	return Document{
		SearchTerms:     []string{},
		Location:        "",
		FilterCompanies: []string{},
		FilterWords:     []string{},
		IntervalRun:     180,
		Proxies: []string{
			"172.173.132.85:80",
			"98.181.137.80:4145",
			"208.65.90.21:4145",
			"74.119.147.209:4145",
			"208.102.51.6:58208",
			"199.229.254.129:4145",
		},
	}
}

// Interval is the pause between scheduled cycles.
func (d Document) Interval() time.Duration {
	return time.Duration(d.IntervalRun) * time.Minute
}

func (d Document) Specs() []models.SearchSpec {
	specs := make([]models.SearchSpec, 0, len(d.SearchTerms))
	for _, term := range d.SearchTerms {
		specs = append(specs, models.SearchSpec{SearchTerm: term, Location: d.Location})
	}
	return specs
}

// Normalized returns a copy with list items trimmed, blanks dropped and
// case-insensitive duplicates removed (first spelling wins).
func (d Document) Normalized() Document {
	out := d
	out.SearchTerms = trimList(d.SearchTerms)
	out.FilterCompanies = trimList(d.FilterCompanies)
	out.FilterWords = trimList(d.FilterWords)
	out.Proxies = trimList(d.Proxies)
	out.Location = strings.TrimSpace(d.Location)
	return out
}

// Validation collects problems found in a document. Warnings do not prevent
// saving or running.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (d Document) Validate() Validation {
	var res Validation

	if d.IntervalRun <= 0 {
		res.Errors = append(res.Errors, "interval_run must be > 0 minutes")
	}
	if len(d.Proxies) == 0 {
		res.Errors = append(res.Errors, "proxies must list at least one endpoint")
	}
	if len(d.SearchTerms) == 0 {
		res.Warnings = append(res.Warnings, "search_terms is empty; cycles will be skipped")
	}
	for _, w := range d.FilterWords {
		if strings.ContainsFunc(w, func(r rune) bool { return r == ' ' || r == '\t' }) {
			res.Warnings = append(res.Warnings, "filter word "+w+" contains whitespace and can never match a single title word")
		}
	}

	return res
}

func trimList(xs []string) []string {
	seen := map[string]bool{}
	ys := []string{}
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		key := strings.ToLower(x)
		if seen[key] {
			continue
		}
		seen[key] = true
		ys = append(ys, x)
	}
	return ys
}
