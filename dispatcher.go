package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// resources lists every collection the API serves.
var resources = []resource{userResource, itemResource}

// newRouter dispatches on the literal path prefixes /users and /items.
// Paths are matched as sent, without cleaning.
func newRouter(users, items http.Handler) *mux.Router {
	r := mux.NewRouter().SkipClean(true)
	r.PathPrefix("/" + userResource.collection).Handler(users)
	r.PathPrefix("/" + itemResource.collection).Handler(items)
	r.NotFoundHandler = http.HandlerFunc(endpointNotFound)
	return r
}

// newAPI wires the resource handlers to store and wraps them in middleware.
func newAPI(store Store, logger *log.Logger) http.Handler {
	users := NewHandler[User](userResource, store, logger)
	items := NewHandler[Item](itemResource, store, logger)
	return loggingMiddleware(logger)(recoverMiddleware(logger)(newRouter(users, items)))
}

// ensureIndexes registers the natural key of every resource with the store.
func ensureIndexes(ctx context.Context, store Store) error {
	for _, res := range resources {
		if err := store.EnsureUnique(ctx, res.collection, res.uniqueKey...); err != nil {
			return errors.Wrap(err, res.collection)
		}
	}
	return nil
}
