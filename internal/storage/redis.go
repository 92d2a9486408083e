package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/signal"
)

// Key layout. Feedback and signal journals pair a JSON value per key with a
// capped list of ids for recency ordering.
const (
	redisFeedbackKey  = "perpsight:feedback:"
	redisFeedbackLog  = "perpsight:feedback:log"
	redisPatternKey   = "perpsight:pattern:"
	redisPatternIndex = "perpsight:patterns"
	redisSignalKey    = "perpsight:signal:"
	redisSignalLog    = "perpsight:signals"

	redisFeedbackCap = 1000
	redisSignalCap   = 50

	// redisOpTimeout bounds every single Redis operation.
	redisOpTimeout = 2 * time.Second
)

// RedisStore implements Store on a Redis backend. Journals are capped to the
// same bounds as the in-memory mirrors.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client. Returns nil for a nil client so
// Redis stays optional.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, redisOpTimeout)
}

func (s *RedisStore) AppendFeedback(ctx context.Context, record learning.FeedbackRecord) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisFeedbackKey+record.RefID, payload, 0)
	pipe.LPush(ctx, redisFeedbackLog, record.RefID)
	pipe.LTrim(ctx, redisFeedbackLog, 0, redisFeedbackCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *RedisStore) FeedbackByRef(ctx context.Context, refID string) (*learning.FeedbackRecord, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, redisFeedbackKey+refID).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}

	var record learning.FeedbackRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) FeedbackSince(ctx context.Context, since time.Time) ([]learning.FeedbackRecord, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	refs, err := s.client.LRange(ctx, redisFeedbackLog, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	var out []learning.FeedbackRecord
	for _, ref := range refs {
		raw, err := s.client.Get(ctx, redisFeedbackKey+ref).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get feedback %s: %w", ref, err)
		}
		var record learning.FeedbackRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			log.Warn().Err(err).Str("ref_id", ref).Msg("Skipping corrupt feedback entry")
			continue
		}
		if !record.ReceivedAt.Before(since) {
			out = append(out, record)
		}
	}
	// The log is newest-first; callers expect oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *RedisStore) UpsertPattern(ctx context.Context, weight learning.PatternWeight) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	payload, err := json.Marshal(weight)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisPatternKey+weight.Name, payload, 0)
	pipe.SAdd(ctx, redisPatternIndex, weight.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func (s *RedisStore) Pattern(ctx context.Context, name string) (*learning.PatternWeight, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, redisPatternKey+name).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}

	var weight learning.PatternWeight
	if err := json.Unmarshal([]byte(raw), &weight); err != nil {
		return nil, fmt.Errorf("unmarshal pattern: %w", err)
	}
	return &weight, nil
}

func (s *RedisStore) Patterns(ctx context.Context) ([]learning.PatternWeight, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	names, err := s.client.SMembers(ctx, redisPatternIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	out := make([]learning.PatternWeight, 0, len(names))
	for _, name := range names {
		weight, err := s.Pattern(ctx, name)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *weight)
	}
	return out, nil
}

func (s *RedisStore) UpsertSignal(ctx context.Context, sig *signal.Signal) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	sq := SignalQuality{SignalID: sig.SignalID, Signal: sig, CreatedAt: time.Now()}
	payload, err := json.Marshal(sq)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisSignalKey+sig.SignalID, payload, 0)
	pipe.LPush(ctx, redisSignalLog, sig.SignalID)
	pipe.LTrim(ctx, redisSignalLog, 0, redisSignalCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (s *RedisStore) RateSignal(ctx context.Context, signalID string, rating int) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, redisSignalKey+signalID).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get signal: %w", err)
	}

	var sq SignalQuality
	if err := json.Unmarshal([]byte(raw), &sq); err != nil {
		return fmt.Errorf("unmarshal signal: %w", err)
	}
	at := time.Now()
	sq.FinalRating = &rating
	sq.RatedAt = &at

	payload, err := json.Marshal(sq)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := s.client.Set(ctx, redisSignalKey+signalID, payload, 0).Err(); err != nil {
		return fmt.Errorf("rate signal: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentSignals(ctx context.Context, limit int) ([]SignalQuality, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	if limit <= 0 || limit > redisSignalCap {
		limit = redisSignalCap
	}
	ids, err := s.client.LRange(ctx, redisSignalLog, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}

	out := make([]SignalQuality, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, redisSignalKey+id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get signal %s: %w", id, err)
		}
		var sq SignalQuality
		if err := json.Unmarshal([]byte(raw), &sq); err != nil {
			log.Warn().Err(err).Str("signal_id", id).Msg("Skipping corrupt signal entry")
			continue
		}
		out = append(out, sq)
	}
	return out, nil
}
