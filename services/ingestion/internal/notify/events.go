package notify

import (
	"context"
	"time"

	"jobwatch/common/events"
	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/models"
)

// ListingsPublisher is satisfied by messaging.Publisher.
type ListingsPublisher interface {
	PublishListings(ctx context.Context, event events.ListingsFound) error
}

// Events publishes new listings for downstream consumers.
type Events struct {
	publisher ListingsPublisher
	now       func() time.Time
}

func NewEvents(publisher ListingsPublisher) *Events {
	return &Events{publisher: publisher, now: time.Now}
}

func (n *Events) Notify(ctx context.Context, term string, listings []models.Listing) error {
	if err := n.publisher.PublishListings(ctx, ListingsFoundEvent(term, listings, n.now())); err != nil {
		return errors.Notification("publishing listings for "+term, err)
	}
	return nil
}

func ListingsFoundEvent(term string, listings []models.Listing, at time.Time) events.ListingsFound {
	records := make([]events.ListingRecord, 0, len(listings))
	for _, l := range listings {
		records = append(records, events.ListingRecord{
			Key:        l.Identity().Key(),
			Title:      l.Title,
			Company:    l.Company,
			Location:   l.Location,
			DatePosted: l.DatePosted,
			JobURL:     l.JobURL,
			JobType:    l.JobType,
			IsRemote:   l.IsRemote,
			Site:       l.Site,
			Extra:      l.Extra,
		})
	}
	return events.ListingsFound{
		SearchTerm: term,
		FoundAt:    at.UTC(),
		Listings:   records,
	}
}
