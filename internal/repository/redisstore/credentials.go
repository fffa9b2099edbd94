package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/zhouzirui/shopbot/backend/internal/model/token"
)

// CredentialStore keeps the shop's token record as a JSON blob without expiry;
// the refresh token outlives the access token.
type CredentialStore struct {
	rdb commands
	key string
}

var _ token.Store = (*CredentialStore)(nil)

func NewCredentialStore(rdb commands, shopID int64) *CredentialStore {
	shop := "default"
	if shopID > 0 {
		shop = strconv.FormatInt(shopID, 10)
	}
	return &CredentialStore{rdb: rdb, key: keyPrefix + "credentials:" + shop}
}

func (s *CredentialStore) Load(ctx context.Context) (token.Record, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return token.Record{}, token.ErrNotFound
	}
	if err != nil {
		return token.Record{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	var rec token.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return token.Record{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return rec, nil
}

func (s *CredentialStore) Save(ctx context.Context, rec token.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
