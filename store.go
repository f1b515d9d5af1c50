package main

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the document store the handlers persist to. Documents are
// encoded with BSON struct tags regardless of backend.
type Store interface {
	// FindAll decodes every document of coll into out, a pointer to a slice.
	FindAll(ctx context.Context, coll string, out any) error
	FindByID(ctx context.Context, coll string, id primitive.ObjectID, out any) error
	// FindOne decodes the first document whose fields equal match.
	FindOne(ctx context.Context, coll string, match bson.M, out any) error
	Insert(ctx context.Context, coll string, doc any) (primitive.ObjectID, error)
	// UpdateByID sets the given fields, leaving the others untouched.
	UpdateByID(ctx context.Context, coll string, id primitive.ObjectID, set bson.M) error
	DeleteByID(ctx context.Context, coll string, id primitive.ObjectID) error
	// EnsureUnique makes the store reject two documents of coll sharing fields.
	EnsureUnique(ctx context.Context, coll string, fields ...string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// openStore connects the backend selected by cfg.
func openStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMongo:
		return ConnectMongo(ctx, cfg.MongoURL, cfg.Database)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "could not connect to redis (%s)", cfg.RedisAddr)
		}
		return NewRedisStore(client), nil
	}
	return nil, errors.Errorf("unknown store backend %q", cfg.Backend)
}

// toFields re-encodes doc as a generic BSON document.
func toFields(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	var fields bson.M
	if err := bson.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return fields, nil
}

// decodeAll unmarshals raw BSON documents into out, a pointer to a slice.
func decodeAll(raws [][]byte, out any) error {
	ptr := reflect.ValueOf(out)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Slice {
		return errors.Errorf("decodeAll: expected pointer to slice, got %T", out)
	}
	slice := ptr.Elem()
	elemType := slice.Type().Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(raws))
	for _, raw := range raws {
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return errors.Wrap(err, "decode document")
		}
		result = reflect.Append(result, elem.Elem())
	}
	slice.Set(result)
	return nil
}

// matches reports whether every field of match equals the one in fields.
// Numbers compare by value so int32 and float64 encodings of 30 are equal.
func matches(fields, match bson.M) bool {
	for k, want := range match {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(canonical(got), canonical(want)) {
			return false
		}
	}
	return true
}

// naturalKey encodes the values of keys in fields as a single string.
func naturalKey(fields bson.M, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(fmt.Sprint(canonical(fields[k])))
	}
	return strings.Join(parts, ":")
}

func canonical(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		if math.IsNaN(n) {
			return "NaN"
		}
		return n
	case primitive.ObjectID:
		return n.Hex()
	}
	return v
}
