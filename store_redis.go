package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Store = (*RedisStore)(nil)

// RedisStore provides document persistence in Redis.
//
// Each document is kept BSON-encoded under "<coll>:<id>", the set "<coll>"
// holds the live ids, and "<coll>:unique:<key>" maps a natural key to the id
// owning it.
type RedisStore struct {
	client *redis.Client

	mu     sync.RWMutex
	unique map[string][]string
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, unique: make(map[string][]string)}
}

func docKey(coll string, id primitive.ObjectID) string {
	return fmt.Sprintf("%s:%s", coll, id.Hex())
}

// uniqueKey returns the index key claimed by fields, if coll has a natural key.
func (s *RedisStore) uniqueKey(coll string, fields bson.M) (string, bool) {
	s.mu.RLock()
	keys, ok := s.unique[coll]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s:unique:%s", coll, naturalKey(fields, keys)), true
}

// EnsureUnique records fields as the natural key of coll. Documents written
// before the call are not indexed.
func (s *RedisStore) EnsureUnique(ctx context.Context, coll string, fields ...string) error {
	s.mu.Lock()
	s.unique[coll] = append([]string(nil), fields...)
	s.mu.Unlock()
	return nil
}

// Insert stores doc under a fresh id.
func (s *RedisStore) Insert(ctx context.Context, coll string, doc any) (primitive.ObjectID, error) {
	fields, err := toFields(doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id := primitive.NewObjectID()
	fields["_id"] = id
	data, err := bson.Marshal(fields)
	if err != nil {
		return primitive.NilObjectID, errors.Wrap(err, "encode document")
	}

	ukey, hasUnique := s.uniqueKey(coll, fields)
	if hasUnique {
		claimed, err := s.client.SetNX(ctx, ukey, id.Hex(), 0).Result()
		if err != nil {
			return primitive.NilObjectID, errors.Wrapf(err, "claim natural key in %s", coll)
		}
		if !claimed {
			return primitive.NilObjectID, ErrDuplicate
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(coll, id), data, 0)
	pipe.SAdd(ctx, coll, id.Hex())
	if _, err := pipe.Exec(ctx); err != nil {
		if hasUnique {
			s.client.Del(ctx, ukey)
		}
		return primitive.NilObjectID, errors.Wrapf(err, "insert into %s", coll)
	}
	return id, nil
}

// FindByID decodes the document with the given id into out.
func (s *RedisStore) FindByID(ctx context.Context, coll string, id primitive.ObjectID, out any) error {
	data, err := s.client.Get(ctx, docKey(coll, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return errors.Wrapf(err, "get from %s", coll)
	}
	return errors.Wrap(bson.Unmarshal(data, out), "decode document")
}

// FindOne decodes the first document equal to match into out. A match on
// exactly the natural key is served from the index.
func (s *RedisStore) FindOne(ctx context.Context, coll string, match bson.M, out any) error {
	if ukey, ok := s.indexLookup(coll, match); ok {
		hex, err := s.client.Get(ctx, ukey).Result()
		if err != nil {
			if err == redis.Nil {
				return ErrNotFound
			}
			return errors.Wrapf(err, "lookup natural key in %s", coll)
		}
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			return errors.Wrapf(err, "corrupt natural key index in %s", coll)
		}
		return s.FindByID(ctx, coll, id, out)
	}

	raws, err := s.scan(ctx, coll)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var fields bson.M
		if err := bson.Unmarshal(raw, &fields); err != nil {
			return errors.Wrap(err, "decode document")
		}
		if matches(fields, match) {
			return errors.Wrap(bson.Unmarshal(raw, out), "decode document")
		}
	}
	return ErrNotFound
}

func (s *RedisStore) indexLookup(coll string, match bson.M) (string, bool) {
	s.mu.RLock()
	keys, ok := s.unique[coll]
	s.mu.RUnlock()
	if !ok || len(keys) != len(match) {
		return "", false
	}
	for _, k := range keys {
		if _, ok := match[k]; !ok {
			return "", false
		}
	}
	return s.uniqueKey(coll, match)
}

// FindAll decodes every document of coll into out.
func (s *RedisStore) FindAll(ctx context.Context, coll string, out any) error {
	raws, err := s.scan(ctx, coll)
	if err != nil {
		return err
	}
	return decodeAll(raws, out)
}

// scan returns the encoded documents of every live id in coll.
func (s *RedisStore) scan(ctx context.Context, coll string) ([][]byte, error) {
	ids, err := s.client.SMembers(ctx, coll).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", coll)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf("%s:%s", coll, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "get %s", coll)
	}
	raws := make([][]byte, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, errors.Wrapf(err, "get %s", coll)
		}
		raws = append(raws, data)
	}
	return raws, nil
}

// UpdateByID merges set into the document with the given id. The read and
// write run under WATCH so a concurrent writer aborts the transaction.
func (s *RedisStore) UpdateByID(ctx context.Context, coll string, id primitive.ObjectID, set bson.M) error {
	key := docKey(coll, id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrNotFound
			}
			return err
		}
		var fields bson.M
		if err := bson.Unmarshal(data, &fields); err != nil {
			return errors.Wrap(err, "decode document")
		}
		oldKey, hasUnique := s.uniqueKey(coll, fields)
		for k, v := range set {
			fields[k] = v
		}
		newKey, _ := s.uniqueKey(coll, fields)
		moved := hasUnique && newKey != oldKey
		if moved {
			claimed, err := tx.SetNX(ctx, newKey, id.Hex(), 0).Result()
			if err != nil {
				return err
			}
			if !claimed {
				return ErrDuplicate
			}
		}
		out, err := bson.Marshal(fields)
		if err != nil {
			if moved {
				tx.Del(ctx, newKey)
			}
			return errors.Wrap(err, "encode document")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if moved {
				pipe.Del(ctx, oldKey)
			}
			return nil
		})
		if err != nil && moved {
			tx.Del(ctx, newKey)
		}
		return err
	}, key)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return errors.Wrapf(err, "update %s", coll)
}

// DeleteByID removes the document with the given id and releases its natural key.
func (s *RedisStore) DeleteByID(ctx context.Context, coll string, id primitive.ObjectID) error {
	key := docKey(coll, id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrNotFound
			}
			return err
		}
		var fields bson.M
		if err := bson.Unmarshal(data, &fields); err != nil {
			return errors.Wrap(err, "decode document")
		}
		ukey, hasUnique := s.uniqueKey(coll, fields)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, coll, id.Hex())
			if hasUnique {
				pipe.Del(ctx, ukey)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return errors.Wrapf(err, "delete from %s", coll)
}

// Ping checks that redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close(ctx context.Context) error {
	return s.client.Close()
}
