package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/high-cuisine/vetclinic-bot/internal/config"
)

const (
	sessionKeyPrefix = "bot:session:"
	historyKeyPrefix = "bot:history:"
)

// Session is the persisted position of one chat inside a flow. State is
// the flow engine's serialized state, opaque to the store.
type Session struct {
	Flow  string          `json:"flow"`
	State json.RawMessage `json:"state"`
}

// HistoryEntry is one line of the small-talk history kept per chat.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// NewRedisClient builds a redis client from configuration.
func NewRedisClient(cfg *config.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// SessionStore keeps flow sessions and chat history in redis, each entry
// expiring after the configured TTL.
type SessionStore struct {
	rdb          *redis.Client
	ttl          time.Duration
	historyLimit int
}

// NewSessionStore creates a SessionStore with the given TTL and history cap.
func NewSessionStore(rdb *redis.Client, ttl time.Duration, historyLimit int) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl, historyLimit: historyLimit}
}

// Get returns the chat's session, or nil when none is stored.
func (s *SessionStore) Get(ctx context.Context, chatID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+chatID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return &sess, nil
}

// Save stores the chat's session and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, chatID string, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+chatID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

// Clear removes the chat's session.
func (s *SessionStore) Clear(ctx context.Context, chatID string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+chatID).Err(); err != nil {
		return fmt.Errorf("store: clear session: %w", err)
	}
	return nil
}

// AppendHistory adds one line to the chat history, trimming it to the
// configured limit.
func (s *SessionStore) AppendHistory(ctx context.Context, chatID, role, text string) error {
	raw, err := json.Marshal(HistoryEntry{Role: role, Text: text})
	if err != nil {
		return fmt.Errorf("store: encode history entry: %w", err)
	}
	key := historyKeyPrefix + chatID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-s.historyLimit), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: append history: %w", err)
	}
	return nil
}

// History returns the chat history, oldest first.
func (s *SessionStore) History(ctx context.Context, chatID string) ([]HistoryEntry, error) {
	raws, err := s.rdb.LRange(ctx, historyKeyPrefix+chatID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("store: decode history entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
