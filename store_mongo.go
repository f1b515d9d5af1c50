package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var _ Store = (*MongoStore)(nil)

// MongoStore provides document persistence in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo opens a client for uri and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}
	return NewMongoStore(client, database), nil
}

// NewMongoStore creates a MongoStore on an already connected client.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(database)}
}

// FindAll decodes every document of coll into out.
func (s *MongoStore) FindAll(ctx context.Context, coll string, out any) error {
	cur, err := s.db.Collection(coll).Find(ctx, bson.M{})
	if err != nil {
		return errors.Wrapf(err, "find %s", coll)
	}
	defer cur.Close(ctx)
	return errors.Wrapf(cur.All(ctx, out), "decode %s", coll)
}

// FindByID decodes the document with the given id into out.
func (s *MongoStore) FindByID(ctx context.Context, coll string, id primitive.ObjectID, out any) error {
	return s.FindOne(ctx, coll, bson.M{"_id": id}, out)
}

// FindOne decodes the first document equal to match into out.
func (s *MongoStore) FindOne(ctx context.Context, coll string, match bson.M, out any) error {
	err := s.db.Collection(coll).FindOne(ctx, match).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return errors.Wrapf(err, "find one in %s", coll)
}

// Insert stores doc and returns the id the server assigned.
func (s *MongoStore) Insert(ctx context.Context, coll string, doc any) (primitive.ObjectID, error) {
	res, err := s.db.Collection(coll).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, ErrDuplicate
	}
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(err, "insert into %s", coll)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.Errorf("insert into %s: unexpected id type %T", coll, res.InsertedID)
	}
	return id, nil
}

// UpdateByID applies set with $set to the document with the given id.
func (s *MongoStore) UpdateByID(ctx context.Context, coll string, id primitive.ObjectID, set bson.M) error {
	c := s.db.Collection(coll)
	// $set rejects an empty document, so only check existence.
	if len(set) == 0 {
		n, err := c.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
		if err != nil {
			return errors.Wrapf(err, "count %s", coll)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}
	res, err := c.UpdateByID(ctx, id, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return errors.Wrapf(err, "update %s", coll)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID removes the document with the given id.
func (s *MongoStore) DeleteByID(ctx context.Context, coll string, id primitive.ObjectID) error {
	res, err := s.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete from %s", coll)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureUnique creates a unique compound index over fields.
func (s *MongoStore) EnsureUnique(ctx context.Context, coll string, fields ...string) error {
	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName("unique_" + strings.Join(fields, "_")),
	}
	_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model)
	return errors.Wrapf(err, "create unique index on %s", coll)
}

// Ping checks that the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
