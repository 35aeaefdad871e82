package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ghuser/eventcore/pkg/config"
	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/logger"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "events:"

const (
	typeKeySegment      = "type:"
	aggregateKeySegment = "aggregate:"
	dateKeySegment      = "date:"

	scanBatchSize = 100
)

// Dial creates a Redis client with connection pooling from the application
// config and verifies connectivity with a ping.
func Dial(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse redis URL: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("eventstore: ping redis: %w", err)
	}

	return rdb, nil
}

// Config configures a RedisStore. The client handle is injected already
// configured; the store takes ownership and closes it on Close.
type Config struct {
	Client *redis.Client
	// KeyPrefix scopes every key the store writes. Default "events:".
	KeyPrefix string
	// DefaultTTL expires primary records. 0 disables expiry. Index-set
	// memberships are never expired (see the package query semantics:
	// expired ids lingering in an index are skipped on read).
	DefaultTTL time.Duration
	// EnableIndexes maintains the by-type, by-aggregate, and by-day sets.
	EnableIndexes bool
	// Registry reconstructs concrete event types on read.
	Registry *events.Registry
	Logger   logger.Logger
}

// RedisStore is the Redis-backed Store implementation. Primary records are
// hashes keyed by event id with a single "data" field holding the serialized
// event; secondary indexes are sets of event ids. A save or delete writes
// the primary record and all index memberships in one MULTI/EXEC batch.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	indexing bool
	registry *events.Registry
	log      logger.Logger

	mu        sync.Mutex
	connected bool
}

// NewRedisStore validates cfg and returns an unconnected store. The first
// operation (or an explicit Connect) establishes the connection.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("eventstore: redis client is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("eventstore: event registry is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &RedisStore{
		client:   cfg.Client,
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.DefaultTTL,
		indexing: cfg.EnableIndexes,
		registry: cfg.Registry,
		log:      cfg.Logger,
	}, nil
}

// Connect verifies the backing connection with a ping.
func (s *RedisStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &ConnectionError{Err: err}
	}
	s.connected = true
	return nil
}

// Close releases the backing connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("eventstore: close: %w", err)
	}
	return nil
}

// Connected reports whether Connect has succeeded since the last Close.
func (s *RedisStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Ping probes the backing connection health.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (s *RedisStore) ensureConnected(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	return s.Connect(ctx)
}

// Save persists the event as an upsert by id. The primary record, its TTL,
// and every applicable index membership are issued as a single MULTI/EXEC
// batch so they commit together from the caller's point of view. There is no
// distributed rollback: a crash between issue and acknowledgment can leave a
// primary record without matching index entries, an accepted risk.
func (s *RedisStore) Save(ctx context.Context, evt events.Event) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	if evt.EventID() == "" || evt.EventType() == "" {
		return errors.New("eventstore: event id and type are required")
	}

	data, err := s.registry.Marshal(evt)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	primary := s.primaryKey(evt.EventID())
	pipe.HSet(ctx, primary, "data", data)
	if s.ttl > 0 {
		// TTL applies to the primary record only, never to index sets.
		pipe.Expire(ctx, primary, s.ttl)
	}
	if s.indexing {
		pipe.SAdd(ctx, s.typeKey(evt.EventType()), evt.EventID())
		if agg := evt.Aggregate(); agg != "" {
			pipe.SAdd(ctx, s.aggregateKey(agg), evt.EventID())
		}
		pipe.SAdd(ctx, s.dateKey(evt.OccurredAt()), evt.EventID())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("eventstore: save %s: %w", evt.EventID(), err)
	}
	return nil
}

// Load returns the stored event, or nil when the id is absent or its TTL has
// passed (Redis lazily evicts expired keys on access, so an expired record
// reads back as absent). A stored-but-corrupt payload is a deserialization
// error, never a nil result.
func (s *RedisStore) Load(ctx context.Context, id string) (events.Event, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.HGet(ctx, s.primaryKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: load %s: %w", id, err)
	}

	return s.registry.Deserialize([]byte(data))
}

// Delete loads the event first to learn its index memberships, then removes
// the primary record and every index entry in one batch. When the stored
// payload cannot be reconstructed through the registry, the raw envelope
// fields are probed instead so index cleanup still happens.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return false, err
	}

	data, err := s.client.HGet(ctx, s.primaryKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("eventstore: delete %s: %w", id, err)
	}

	env := probeEnvelope([]byte(data))

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.primaryKey(id))
	if s.indexing {
		if env.Type != "" {
			pipe.SRem(ctx, s.typeKey(env.Type), id)
		}
		if env.AggregateID != "" {
			pipe.SRem(ctx, s.aggregateKey(env.AggregateID), id)
		}
		if !env.OccurredOn.IsZero() {
			pipe.SRem(ctx, s.dateKey(env.OccurredOn), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("eventstore: delete %s: %w", id, err)
	}
	return true, nil
}

// Query resolves candidate ids from the type index when EventType is given,
// else from the aggregate index when AggregateID is given, else by scanning
// every primary key under the prefix. Candidates are loaded, filtered
// in-memory by every present criterion, sorted newest first, and truncated
// to Limit. Ids lingering in an index after their primary record expired are
// skipped silently.
func (s *RedisStore) Query(ctx context.Context, c Criteria) ([]events.Event, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ids, err := s.candidateIDs(ctx, c)
	if err != nil {
		return nil, err
	}

	matched := make([]events.Event, 0, len(ids))
	for _, id := range ids {
		evt, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if evt == nil {
			continue // expired but still referenced by an index
		}
		if matches(evt, c) {
			matched = append(matched, evt)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt().After(matched[j].OccurredAt())
	})
	if c.Limit > 0 && len(matched) > c.Limit {
		matched = matched[:c.Limit]
	}
	return matched, nil
}

func (s *RedisStore) candidateIDs(ctx context.Context, c Criteria) ([]string, error) {
	if s.indexing {
		switch {
		case c.EventType != "":
			ids, err := s.client.SMembers(ctx, s.typeKey(c.EventType)).Result()
			if err != nil {
				return nil, fmt.Errorf("eventstore: read type index %s: %w", c.EventType, err)
			}
			return ids, nil
		case c.AggregateID != "":
			ids, err := s.client.SMembers(ctx, s.aggregateKey(c.AggregateID)).Result()
			if err != nil {
				return nil, fmt.Errorf("eventstore: read aggregate index %s: %w", c.AggregateID, err)
			}
			return ids, nil
		}
	}

	// No index-eligible filter: fall back to a full key scan under the prefix.
	keys, err := s.scanKeys(ctx, s.prefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if s.isIndexKey(key) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, s.prefix))
	}
	return ids, nil
}

func matches(evt events.Event, c Criteria) bool {
	if c.EventType != "" && evt.EventType() != c.EventType {
		return false
	}
	if c.AggregateID != "" && evt.Aggregate() != c.AggregateID {
		return false
	}
	// Before/After are inclusive bounds on OccurredAt.
	if !c.After.IsZero() && evt.OccurredAt().Before(c.After) {
		return false
	}
	if !c.Before.IsZero() && evt.OccurredAt().After(c.Before) {
		return false
	}
	return true
}

// Stats derives the per-type counts from index cardinalities when indexing
// is enabled, otherwise from a direct primary key count.
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	stats := &Stats{ByType: make(map[string]int64)}

	if s.indexing {
		keys, err := s.scanKeys(ctx, s.prefix+typeKeySegment+"*")
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			n, err := s.client.SCard(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("eventstore: stats: %w", err)
			}
			eventType := strings.TrimPrefix(key, s.prefix+typeKeySegment)
			stats.ByType[eventType] = n
			stats.TotalEvents += n
		}
		return stats, nil
	}

	keys, err := s.scanKeys(ctx, s.prefix+"*")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if !s.isIndexKey(key) {
			stats.TotalEvents++
		}
	}
	return stats, nil
}

// Clear deletes every key under the prefix, primary and index alike. Each
// batch failure is collected and joined into the returned error rather than
// aborting the sweep, so teardown always runs to completion while callers
// can still inspect partial failures.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx, s.prefix+"*")
	if err != nil {
		s.log.WarnContext(ctx, "eventstore: clear scan failed", "error", err)
		return err
	}

	var errs []error
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			s.log.WarnContext(ctx, "eventstore: clear batch failed", "error", err)
			errs = append(errs, fmt.Errorf("eventstore: clear %d keys: %w", end-start, err))
		}
	}
	return errors.Join(errs...)
}

func (s *RedisStore) scanKeys(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, match, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: scan %s: %w", match, err)
	}
	return keys, nil
}

func (s *RedisStore) primaryKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) typeKey(eventType string) string {
	return s.prefix + typeKeySegment + eventType
}

func (s *RedisStore) aggregateKey(aggregateID string) string {
	return s.prefix + aggregateKeySegment + aggregateID
}

// dateKey buckets by the UTC day of the event's timestamp.
func (s *RedisStore) dateKey(t time.Time) string {
	return s.prefix + dateKeySegment + t.UTC().Format("2006-01-02")
}

func (s *RedisStore) isIndexKey(key string) bool {
	rest := strings.TrimPrefix(key, s.prefix)
	return strings.HasPrefix(rest, typeKeySegment) ||
		strings.HasPrefix(rest, aggregateKeySegment) ||
		strings.HasPrefix(rest, dateKeySegment)
}

// envelope holds the common fields probed straight from stored JSON when the
// full event cannot be reconstructed (e.g. its type is no longer registered).
type envelope struct {
	Type        string    `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredOn  time.Time `json:"occurred_on"`
}

func probeEnvelope(data []byte) envelope {
	var env envelope
	_ = json.Unmarshal(data, &env)
	return env
}
