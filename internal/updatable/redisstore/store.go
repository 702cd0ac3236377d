// Package redisstore persists the in-memory entity store in Redis. Every
// entity is a hash holding its type, version and JSON encoded values and
// links; a set per entity set lists its members.
package redisstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/debug"
	"github.com/zmcp/odata-codec/internal/metadata"
	"github.com/zmcp/odata-codec/internal/updatable"
)

const (
	fieldSet         = "set"
	fieldType        = "type"
	fieldVersion     = "version"
	fieldData        = "data"
	fieldLinks       = "links"
	fieldContentType = "content_type"
	fieldMedia       = "media"

	// DefaultKeyPrefix namespaces every key the store writes
	DefaultKeyPrefix = "odata:"
)

// Config holds Redis connection configuration
type Config struct {
	// URL is a redis:// connection URL
	URL string

	// KeyPrefix is the prefix for all keys
	KeyPrefix string
}

// Store is an updatable.MemoryStore whose saved state lives in Redis
type Store struct {
	*updatable.MemoryStore

	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects to Redis and returns an empty store. Call Load to read the
// saved entities.
func New(provider *metadata.Provider, cfg Config, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL %s: %w", debug.MaskURL(cfg.URL), err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return NewFromClient(provider, redis.NewClient(opts), cfg.KeyPrefix, logger), nil
}

// NewFromClient wraps an existing client
func NewFromClient(provider *metadata.Provider, client *redis.Client, keyPrefix string, logger *zap.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		MemoryStore: updatable.NewMemoryStore(provider, updatable.WithLogger(logger)),
		client:      client,
		prefix:      keyPrefix,
		logger:      logger,
	}
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) entityKey(id string) string {
	return s.prefix + "entity:" + id
}

func (s *Store) setKey(setName string) string {
	return s.prefix + "set:" + setName
}

// SaveChanges commits the pending changes in memory and writes every
// changed entity in one transaction
func (s *Store) SaveChanges(ctx context.Context) error {
	changed, err := s.MemoryStore.Commit()
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range changed {
			fields, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			key := s.entityKey(rec.ID())
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			pipe.SAdd(ctx, s.setKey(rec.Set), rec.ID())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save error: %w", err)
	}

	s.logger.Debug("saved entities to redis", zap.Int("count", len(changed)))
	return nil
}

func encodeRecord(rec *updatable.Record) (map[string]any, error) {
	data, err := updatable.MarshalValues(rec.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", rec.ID(), err)
	}
	links, err := json.Marshal(rec.LinkIDs(), json.Deterministic(true))
	if err != nil {
		return nil, fmt.Errorf("failed to encode links of %s: %w", rec.ID(), err)
	}
	fields := map[string]any{
		fieldSet:     rec.Set,
		fieldType:    rec.Type,
		fieldVersion: strconv.FormatInt(rec.Version(), 10),
		fieldData:    string(data),
		fieldLinks:   string(links),
	}
	if media := rec.Media(); media != nil {
		fields[fieldContentType] = media.ContentType
		fields[fieldMedia] = base64.StdEncoding.EncodeToString(media.Data)
	}
	return fields, nil
}

// Load reads every saved entity of the given sets into memory. Links are
// restored once all entities are present.
func (s *Store) Load(ctx context.Context, setNames ...string) error {
	type loaded struct {
		rec   *updatable.Record
		links map[string][]string
	}
	var all []loaded

	for _, setName := range setNames {
		ids, err := s.client.SMembers(ctx, s.setKey(setName)).Result()
		if err != nil {
			return fmt.Errorf("redis smembers error: %w", err)
		}
		sort.Strings(ids)

		for _, id := range ids {
			fields, err := s.client.HGetAll(ctx, s.entityKey(id)).Result()
			if err != nil {
				return fmt.Errorf("redis hgetall error: %w", err)
			}
			if len(fields) == 0 {
				s.logger.Warn("dangling entity set member", zap.String("id", id))
				continue
			}
			rec, links, err := s.restore(fields)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", id, err)
			}
			all = append(all, loaded{rec: rec, links: links})
		}
	}

	for _, l := range all {
		navs := make([]string, 0, len(l.links))
		for nav := range l.links {
			navs = append(navs, nav)
		}
		sort.Strings(navs)
		for _, nav := range navs {
			for _, target := range l.links[nav] {
				if err := s.RestoreLink(l.rec, nav, target); err != nil {
					return err
				}
			}
		}
	}

	s.logger.Debug("loaded entities from redis", zap.Int("count", len(all)))
	return nil
}

func (s *Store) restore(fields map[string]string) (*updatable.Record, map[string][]string, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	values, err := updatable.UnmarshalValues(s.Provider(), fields[fieldType], []byte(fields[fieldData]))
	if err != nil {
		return nil, nil, err
	}
	var links map[string][]string
	if raw := fields[fieldLinks]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &links); err != nil {
			return nil, nil, fmt.Errorf("invalid links: %w", err)
		}
	}

	rec, err := s.Restore(fields[fieldSet], fields[fieldType], values, version)
	if err != nil {
		return nil, nil, err
	}
	if encoded, ok := fields[fieldMedia]; ok {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid media content: %w", err)
		}
		s.RestoreMedia(rec, &updatable.Media{ContentType: fields[fieldContentType], Data: data})
	}
	return rec, links, nil
}
