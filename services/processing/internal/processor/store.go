package processor

import (
	"context"

	"jobwatch/services/processing/internal/errors"
	"jobwatch/services/processing/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ListingStore interface {
	InsertListings(ctx context.Context, rows []models.ArchivedListing) error
}

// ClickHouseStore writes archive rows to the listings table in one batch per
// call. The table is a ReplacingMergeTree, so replays collapse on key.
type ClickHouseStore struct {
	conn clickhouse.Conn
}

func NewClickHouseStore(conn clickhouse.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

func (s *ClickHouseStore) InsertListings(ctx context.Context, rows []models.ArchivedListing) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO listings")
	if err != nil {
		return errors.Unavailable("prepare listings batch", err)
	}
	defer batch.Abort()

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			return errors.Storage("append listing "+rows[i].Key.String(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.Storage("send listings batch", err)
	}
	return nil
}
