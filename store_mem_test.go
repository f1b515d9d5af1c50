package main

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Store = (*memStore)(nil)

// memStore is an in-memory Store for handler tests. Setting err makes every
// call fail with it.
type memStore struct {
	mu     sync.Mutex
	docs   map[string]map[primitive.ObjectID]bson.M
	order  map[string][]primitive.ObjectID
	unique map[string][]string
	err    error
}

func newMemStore() *memStore {
	return &memStore{
		docs:   make(map[string]map[primitive.ObjectID]bson.M),
		order:  make(map[string][]primitive.ObjectID),
		unique: make(map[string][]string),
	}
}

func (s *memStore) count(coll string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[coll])
}

func (s *memStore) decodeInto(fields bson.M, out any) error {
	data, err := bson.Marshal(fields)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, out)
}

func (s *memStore) FindAll(ctx context.Context, coll string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	var raws [][]byte
	for _, id := range s.order[coll] {
		fields, ok := s.docs[coll][id]
		if !ok {
			continue
		}
		data, err := bson.Marshal(fields)
		if err != nil {
			return err
		}
		raws = append(raws, data)
	}
	return decodeAll(raws, out)
}

func (s *memStore) FindByID(ctx context.Context, coll string, id primitive.ObjectID, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	fields, ok := s.docs[coll][id]
	if !ok {
		return ErrNotFound
	}
	return s.decodeInto(fields, out)
}

func (s *memStore) FindOne(ctx context.Context, coll string, match bson.M, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, id := range s.order[coll] {
		if fields, ok := s.docs[coll][id]; ok && matches(fields, match) {
			return s.decodeInto(fields, out)
		}
	}
	return ErrNotFound
}

// taken reports whether a document other than self already holds the natural key of fields.
func (s *memStore) taken(coll string, self primitive.ObjectID, fields bson.M) bool {
	keys, ok := s.unique[coll]
	if !ok {
		return false
	}
	want := naturalKey(fields, keys)
	for id, other := range s.docs[coll] {
		if id != self && naturalKey(other, keys) == want {
			return true
		}
	}
	return false
}

func (s *memStore) Insert(ctx context.Context, coll string, doc any) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return primitive.NilObjectID, s.err
	}
	fields, err := toFields(doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id := primitive.NewObjectID()
	fields["_id"] = id
	if s.taken(coll, id, fields) {
		return primitive.NilObjectID, ErrDuplicate
	}
	if s.docs[coll] == nil {
		s.docs[coll] = make(map[primitive.ObjectID]bson.M)
	}
	s.docs[coll][id] = fields
	s.order[coll] = append(s.order[coll], id)
	return id, nil
}

func (s *memStore) UpdateByID(ctx context.Context, coll string, id primitive.ObjectID, set bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	current, ok := s.docs[coll][id]
	if !ok {
		return ErrNotFound
	}
	merged := bson.M{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range set {
		merged[k] = v
	}
	if s.taken(coll, id, merged) {
		return ErrDuplicate
	}
	s.docs[coll][id] = merged
	return nil
}

func (s *memStore) DeleteByID(ctx context.Context, coll string, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.docs[coll][id]; !ok {
		return ErrNotFound
	}
	delete(s.docs[coll], id)
	return nil
}

func (s *memStore) EnsureUnique(ctx context.Context, coll string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unique[coll] = fields
	return s.err
}

func (s *memStore) Ping(ctx context.Context) error { return s.err }

func (s *memStore) Close(ctx context.Context) error { return nil }
