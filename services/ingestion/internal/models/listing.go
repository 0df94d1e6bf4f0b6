package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// identityNamespace scopes listing keys so they never collide with other
// SHA1 UUIDs derived from the same strings.
var identityNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// Listing is a single job posting as returned by a source. Listings are
// treated as immutable once fetched.
type Listing struct {
	Title      string            `json:"title"`
	Company    string            `json:"company"`
	Location   string            `json:"location"`
	DatePosted string            `json:"date_posted"`
	JobURL     string            `json:"job_url"`
	JobType    string            `json:"job_type,omitempty"`
	IsRemote   bool              `json:"is_remote"`
	Site       string            `json:"site,omitempty"`
	SearchTerm string            `json:"search_term,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Identity is the dedup key of a listing.
type Identity struct {
	Title   string
	Company string
	URL     string
}

// Normalize trims and case folds s for comparisons.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func (l Listing) Identity() Identity {
	return Identity{
		Title:   Normalize(l.Title),
		Company: Normalize(l.Company),
		URL:     strings.TrimSpace(l.JobURL),
	}
}

// Key is a stable storage key for the identity.
func (id Identity) Key() string {
	return uuid.NewSHA1(identityNamespace, []byte(id.Title+"\x00"+id.Company+"\x00"+id.URL)).String()
}

func (l Listing) MarshalBinary() ([]byte, error) {
	return json.Marshal(l)
}

func (l *Listing) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, l)
}

// Listings is a batch that can round-trip through a cache.
type Listings []Listing

func (ls Listings) MarshalBinary() ([]byte, error) {
	return json.Marshal(ls)
}

func (ls *Listings) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, ls)
}
