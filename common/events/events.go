package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// ListingsFoundSubject carries one ListingsFound event per search term
	// that produced new listings in a cycle.
	ListingsFoundSubject = "listings.new"

	// ArchiveQueue is the queue group used by archivers so each event is
	// stored once.
	ArchiveQueue = "processing-service"
)

type ListingRecord struct {
	Key        string            `json:"key"`
	Title      string            `json:"title"`
	Company    string            `json:"company"`
	Location   string            `json:"location"`
	DatePosted string            `json:"date_posted"`
	JobURL     string            `json:"job_url"`
	JobType    string            `json:"job_type,omitempty"`
	IsRemote   bool              `json:"is_remote"`
	Site       string            `json:"site,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

type ListingsFound struct {
	SearchTerm string          `json:"search_term"`
	FoundAt    time.Time       `json:"found_at"`
	Listings   []ListingRecord `json:"listings"`
}

func (e ListingsFound) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeListingsFound(data []byte) (ListingsFound, error) {
	var e ListingsFound
	if err := json.Unmarshal(data, &e); err != nil {
		return ListingsFound{}, fmt.Errorf("decode listings found event: %w", err)
	}
	return e, nil
}
