package parser

import (
	"fmt"
	"strings"
	"time"

	"jobwatch/common/events"
	"jobwatch/services/processing/internal/errors"
	"jobwatch/services/processing/internal/models"

	"github.com/google/uuid"
)

// ParseListingsFound decodes a listings event into archive rows stamped with
// archivedAt. Records without a valid key or job URL are skipped and counted.
func ParseListingsFound(data []byte, archivedAt time.Time) ([]models.ArchivedListing, int, error) {
	event, err := events.DecodeListingsFound(data)
	if err != nil {
		return nil, 0, errors.InvalidInput("malformed listings event", err)
	}
	if strings.TrimSpace(event.SearchTerm) == "" {
		return nil, 0, errors.InvalidInput("listings event has no search term", nil)
	}

	foundAt := event.FoundAt.UTC()
	if foundAt.IsZero() {
		foundAt = archivedAt.UTC()
	}

	rows := make([]models.ArchivedListing, 0, len(event.Listings))
	skipped := 0
	for _, rec := range event.Listings {
		row, err := ToRow(event.SearchTerm, rec, foundAt, archivedAt)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// ToRow maps a single event record to its archive row.
func ToRow(term string, rec events.ListingRecord, foundAt, archivedAt time.Time) (models.ArchivedListing, error) {
	key, err := uuid.Parse(rec.Key)
	if err != nil {
		return models.ArchivedListing{}, errors.InvalidInput(fmt.Sprintf("listing key %q", rec.Key), err)
	}
	if strings.TrimSpace(rec.JobURL) == "" {
		return models.ArchivedListing{}, errors.InvalidInput("listing "+rec.Key+" has no job url", nil)
	}

	extra := rec.Extra
	if extra == nil {
		extra = map[string]string{}
	}

	return models.ArchivedListing{
		Key:        key,
		SearchTerm: term,
		Title:      strings.TrimSpace(rec.Title),
		Company:    strings.TrimSpace(rec.Company),
		Location:   strings.TrimSpace(rec.Location),
		DatePosted: rec.DatePosted,
		JobURL:     strings.TrimSpace(rec.JobURL),
		JobType:    rec.JobType,
		IsRemote:   rec.IsRemote,
		Site:       rec.Site,
		Extra:      extra,
		FoundAt:    foundAt,
		ArchivedAt: archivedAt.UTC(),
	}, nil
}
