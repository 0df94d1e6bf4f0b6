package redisstore

import (
	"context"
	"encoding/json"
	"sort"

	"jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/ledger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// DefaultKey is the hash holding identity key -> JSON entry.
const DefaultKey = "jobwatch:ledger"

type Store struct {
	client *redis.Client
	key    string
	owned  bool
}

// New uses an existing client, which the store does not close.
func New(client *redis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Ledger("connecting to redis ledger", multierr.Append(err, client.Close()))
	}
	s := New(client, DefaultKey)
	s.owned = true
	return s, nil
}

func (s *Store) Load(ctx context.Context) ([]ledger.Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Ledger("reading redis ledger", err)
	}

	out := make([]ledger.Entry, 0, len(raw))
	for field, value := range raw {
		var e ledger.Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return nil, errors.Filter("redis ledger entry "+field+" is malformed", err)
		}
		if e.Listing.JobURL == "" && e.Listing.Title == "" && e.Listing.Company == "" {
			return nil, errors.Filter("redis ledger entry "+field+" has no identity fields", nil)
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

// Append writes all entries in a MULTI/EXEC transaction.
func (s *Store) Append(ctx context.Context, entries []ledger.Entry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.key, e.Key(), data)
		}
		return nil
	})
	if err != nil {
		return errors.Ledger("writing redis ledger", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
