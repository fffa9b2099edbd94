package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
)

const (
	conversationTTL = 24 * time.Hour
	sendersKey      = keyPrefix + "conversation:senders"
)

// ConversationStore keeps each sender's history as a Redis list of JSON
// entries with a sliding 24h TTL. Append pushes, trims and refreshes the TTL
// in one MULTI/EXEC, so concurrent writers (in this process or another
// replica) never interleave inside a call and the bound holds on the server.
type ConversationStore struct {
	rdb   commands
	limit int
	ttl   time.Duration
	now   func() time.Time
}

var _ conversation.Store = (*ConversationStore)(nil)

func NewConversationStore(rdb commands, limit int) *ConversationStore {
	if limit <= 0 {
		limit = 20
	}
	return &ConversationStore{
		rdb:   rdb,
		limit: limit,
		ttl:   conversationTTL,
		now:   time.Now,
	}
}

func historyKey(senderID string) string {
	return keyPrefix + "conversation:" + senderID
}

func (s *ConversationStore) Append(ctx context.Context, senderID string, entries ...conversation.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		e.SenderID = senderID
		if e.Timestamp.IsZero() {
			e.Timestamp = s.now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		values = append(values, data)
	}

	key := historyKey(senderID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.limit), -1)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, sendersKey, senderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (s *ConversationStore) History(ctx context.Context, senderID string) ([]conversation.Entry, error) {
	raw, err := s.rdb.LRange(ctx, historyKey(senderID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := make([]conversation.Entry, 0, len(raw))
	for _, item := range raw {
		var e conversation.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		history = append(history, e)
	}
	// The server trims on write; this only matters if the limit was lowered.
	return conversation.Trim(history, s.limit), nil
}

func (s *ConversationStore) Clear(ctx context.Context, senderID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, historyKey(senderID))
		pipe.SRem(ctx, sendersKey, senderID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Senders lists indexed senders, sorted. A sender whose history expired stays
// listed until it is cleared or writes again.
func (s *ConversationStore) Senders(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, sendersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
