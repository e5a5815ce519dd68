package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const redisTxAttempts = 10

// RedisStore implements Store on Redis. Documents are plain keys plus a
// per-collection index set. Update uses WATCH + MULTI/EXEC optimistic
// transactions; a lost race is retried, so callers still observe
// read-verify-write atomicity. Queries read the index set and filter
// client-side, which is fine at waiting-room scale.
type RedisStore struct {
	Client       *redis.Client
	PollInterval time.Duration
	Clock        clockwork.Clock
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, PollInterval: 500 * time.Millisecond, Clock: clockwork.NewRealClock()}
}

func docKey(collection, id string) string { return "doc:" + collection + ":" + id }

func indexKey(collection string) string { return "docs:" + collection }

func (s *RedisStore) Insert(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ok, err := s.Client.SetNX(ctx, docKey(collection, id), raw, 0).Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	if !ok {
		return ErrExists
	}
	if err := s.Client.SAdd(ctx, indexKey(collection), id).Err(); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, collection, id string, out any) error {
	raw, err := s.Client.Get(ctx, docKey(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return wrapRedisErr(err)
	}
	return json.Unmarshal(raw, out)
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	n, err := s.Client.Del(ctx, docKey(collection, id)).Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	if err := s.Client.SRem(ctx, indexKey(collection), id).Err(); err != nil {
		return wrapRedisErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, collection string, filters []Filter, out any) error {
	ids, err := s.Client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	if len(ids) == 0 {
		return UnmarshalDocs(nil, out)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(collection, id)
	}
	values, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	var raws []json.RawMessage
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // index entry for a deleted doc, skip
		}
		match, err := MatchesFilters([]byte(str), filters)
		if err != nil {
			return err
		}
		if match {
			raws = append(raws, json.RawMessage(str))
		}
	}
	return UnmarshalDocs(raws, out)
}

func (s *RedisStore) Update(ctx context.Context, collection, id string, apply func(raw []byte) ([]byte, error)) error {
	key := docKey(collection, id)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return wrapRedisErr(err)
		}
		updated, err := apply(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxAttempts; i++ {
		err := s.Client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // raced another writer, re-read and retry
		}
		return err
	}
	return fmt.Errorf("%w: update on %s kept losing optimistic transactions", ErrUnavailable, key)
}

func (s *RedisStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		var last []byte
		ticker := s.Clock.NewTicker(s.PollInterval)
		defer ticker.Stop()
		for {
			raw, err := s.Client.Get(ctx, docKey(collection, id)).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				if last != nil {
					return // document deleted
				}
			case err != nil:
				// transient — keep polling
			default:
				if !bytes.Equal(last, raw) {
					last = raw
					select {
					case ch <- raw:
					case <-ctx.Done():
						return
					}
				}
			}
			select {
			case <-ticker.Chan():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *RedisStore) Close() error { return s.Client.Close() }

func wrapRedisErr(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
