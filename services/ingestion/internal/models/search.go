package models

import "time"

// SearchSpec is one configured search term.
type SearchSpec struct {
	SearchTerm string `json:"search_term"`
	Location   string `json:"location"`
}

// CycleResult summarises what happened to one search term in one cycle.
type CycleResult struct {
	SearchTerm    string        `json:"search_term"`
	Proxy         string        `json:"proxy,omitempty"`
	FetchedCount  int           `json:"fetched_count"`
	FilteredCount int           `json:"filtered_count"`
	NewCount      int           `json:"new_count"`
	Notified      bool          `json:"notified"`
	Err           error         `json:"-"`
	Error         string        `json:"error,omitempty"`
	NotifyError   string        `json:"notify_error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

func (r CycleResult) Failed() bool {
	return r.Err != nil
}

// SetError records err as the terminal error for the term.
func (r *CycleResult) SetError(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}
