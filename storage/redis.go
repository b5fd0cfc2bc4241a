package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxExpiryScore bounds expiry-index range queries from above. It is the
// Unix second for 9999-12-31T23:59:59Z, far beyond any real token expiry.
const maxExpiryScore int64 = 253402300799

// RedisStore is the networked backend. Each token lives in a hash at
// "<kind-prefix>:<id>" with a key expiration matching its ValidTo, and the
// kind's sorted set (keyed by the prefix itself) maps each record key to a
// score equal to the expiry in Unix seconds. The two-step write is not
// wrapped in a cross-operation lock; an index entry whose record has
// vanished is pruned lazily when a query encounters it.
type RedisStore struct {
	client   redis.UniversalClient
	prefixes Prefixes
	logger   *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefixes: cfg.Prefixes, logger: logger}, nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Useful for tests
// backed by miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, prefixes Prefixes, logger *zap.Logger) *RedisStore {
	if prefixes == (Prefixes{}) {
		prefixes = DefaultPrefixes()
	}
	return &RedisStore{client: client, prefixes: prefixes, logger: logger}
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks backend connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordKey(kind Kind, id string) string {
	return s.prefixes.For(kind) + ":" + id
}

func (s *RedisStore) indexKey(kind Kind) string {
	return s.prefixes.For(kind)
}

// Insert writes the token record, sets its key expiration, and adds it to
// the expiry index in one pipeline. A backend failure is logged and
// surfaces as an absent token rather than a transport error.
func (s *RedisStore) Insert(ctx context.Context, tok Token) (*Token, error) {
	if err := validate(tok); err != nil {
		return nil, err
	}

	key := s.recordKey(tok.Kind, tok.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, recordFields(tok))
	pipe.ExpireAt(ctx, key, tok.ValidTo)
	pipe.ZAdd(ctx, s.indexKey(tok.Kind), redis.Z{
		Score:  float64(tok.ValidTo.Unix()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("token insert failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, nil
	}

	stored := tok
	return &stored, nil
}

// Get fetches the record by identity. The record disappears on its own
// once the key expiration fires, so a direct lookup can still succeed for
// a token that active queries already exclude.
func (s *RedisStore) Get(ctx context.Context, kind Kind, id string) (*Token, error) {
	vals, err := s.client.HGetAll(ctx, s.recordKey(kind, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	tok, err := parseRecord(kind, vals)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// GetActive range-queries the expiry index with an exclusive lower bound at
// cutoff, then fetches each record. Indexed keys whose record is gone are
// treated as not found and removed from the index.
func (s *RedisStore) GetActive(ctx context.Context, kind Kind, redirectURI string, cutoff time.Time) ([]Token, error) {
	index := s.indexKey(kind)
	keys, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff.Unix(), 10),
		Max: strconv.FormatInt(maxExpiryScore, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query expiry index: %w", err)
	}

	var out []Token
	for _, key := range keys {
		vals, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get token record: %w", err)
		}
		if len(vals) == 0 {
			// Orphaned index entry; the record expired or a crash
			// interrupted an insert. Prune and move on.
			_ = s.client.ZRem(ctx, index, key).Err()
			continue
		}

		tok, err := parseRecord(kind, vals)
		if err != nil {
			return nil, err
		}
		if redirectURI != "" && tok.RedirectURI != redirectURI {
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}

// Delete removes the record and its index entry. The DEL reply count
// decides presence, so concurrent redeemers cannot both observe the token.
func (s *RedisStore) Delete(ctx context.Context, tok Token) (bool, error) {
	key := s.recordKey(tok.Kind, tok.ID)

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.indexKey(tok.Kind), key)
	del := pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	return del.Val() > 0, nil
}

// DeleteExpired trims index entries scored at or below cutoff. The records
// themselves are reclaimed by their own key expirations, so this is purely
// index cleanup and never deletes a record twice.
func (s *RedisStore) DeleteExpired(ctx context.Context, kind Kind, cutoff time.Time) (int, error) {
	removed, err := s.client.ZRemRangeByScore(ctx, s.indexKey(kind),
		"-inf", strconv.FormatInt(cutoff.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim expiry index: %w", err)
	}
	return int(removed), nil
}

// recordFields flattens a token to the field-to-string mapping stored in
// the record hash. Timestamps use RFC 3339 with nanoseconds so the mapping
// round-trips faithfully.
func recordFields(tok Token) map[string]string {
	return map[string]string{
		"id":           tok.ID,
		"client_id":    tok.ClientID,
		"redirect_uri": tok.RedirectURI,
		"subject":      tok.Subject,
		"ticket":       tok.Ticket,
		"created":      tok.Created.UTC().Format(time.RFC3339Nano),
		"valid_to":     tok.ValidTo.UTC().Format(time.RFC3339Nano),
	}
}

func parseRecord(kind Kind, vals map[string]string) (Token, error) {
	created, err := time.Parse(time.RFC3339Nano, vals["created"])
	if err != nil {
		return Token{}, fmt.Errorf("malformed created timestamp: %w", err)
	}
	validTo, err := time.Parse(time.RFC3339Nano, vals["valid_to"])
	if err != nil {
		return Token{}, fmt.Errorf("malformed valid_to timestamp: %w", err)
	}

	return Token{
		Kind:        kind,
		ID:          vals["id"],
		ClientID:    vals["client_id"],
		RedirectURI: vals["redirect_uri"],
		Subject:     vals["subject"],
		Ticket:      vals["ticket"],
		Created:     created,
		ValidTo:     validTo,
	}, nil
}

var _ Store = (*RedisStore)(nil)
