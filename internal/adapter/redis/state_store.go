package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/detect"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const lastTotalKey = "donations:last_total"

// StateStore keeps the last distributed total under a single key, using
// the same "<n> kr" text as the state file.
type StateStore struct {
	rdb *goredis.Client
}

func NewStateStore(rdb *goredis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

func (s *StateStore) Load(ctx context.Context) (int64, bool, error) {
	val, err := s.rdb.Get(ctx, lastTotalKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read last total: %w", err)
	}

	total, err := detect.ParseAmount(val)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %w", domain.ErrStateCorrupt, lastTotalKey, err)
	}
	return total, true, nil
}

func (s *StateStore) Save(ctx context.Context, total int64) error {
	if err := s.rdb.Set(ctx, lastTotalKey, detect.FormatTotal(total), 0).Err(); err != nil {
		return fmt.Errorf("failed to write last total: %w", err)
	}
	return nil
}
