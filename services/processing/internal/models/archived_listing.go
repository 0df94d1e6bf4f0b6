package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchivedListing is one row of the listings table.
type ArchivedListing struct {
	Key        uuid.UUID         `ch:"key"`
	SearchTerm string            `ch:"search_term"`
	Title      string            `ch:"title"`
	Company    string            `ch:"company"`
	Location   string            `ch:"location"`
	DatePosted string            `ch:"date_posted"`
	JobURL     string            `ch:"job_url"`
	JobType    string            `ch:"job_type"`
	IsRemote   bool              `ch:"is_remote"`
	Site       string            `ch:"site"`
	Extra      map[string]string `ch:"extra"`
	FoundAt    time.Time         `ch:"found_at"`
	ArchivedAt time.Time         `ch:"archived_at"`
}
