// integration_test.go runs the CRUD lifecycle end to end against real stores.
// Each backend is skipped unless its address is set (MONGO_URL, REDIS_ADDR).
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCtx = context.Background()

func TestMongoIntegration(t *testing.T) {
	uri := os.Getenv("MONGO_URL")
	if uri == "" {
		t.Skip("MONGO_URL not set")
	}
	store, err := ConnectMongo(testCtx, uri, "doccrud_test")
	require.NoError(t, err)
	require.NoError(t, store.db.Drop(testCtx))
	t.Cleanup(func() {
		_ = store.db.Drop(testCtx)
		_ = store.Close(testCtx)
	})

	runCRUDIntegration(t, store)
}

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	// flush Redis DB for a clean slate
	require.NoError(t, client.FlushDB(testCtx).Err())
	store := NewRedisStore(client)
	t.Cleanup(func() {
		_ = client.FlushDB(testCtx)
		_ = store.Close(testCtx)
	})

	runCRUDIntegration(t, store)
}

// runCRUDIntegration exercises create, read, duplicate, update, list and
// delete for both resources over HTTP.
func runCRUDIntegration(t *testing.T, store Store) {
	require.NoError(t, store.Ping(testCtx))
	require.NoError(t, ensureIndexes(testCtx, store))
	srv := httptest.NewServer(newAPI(store, newTestLogger()))
	defer srv.Close()
	url := srv.URL

	// CREATE
	ana := createdID(t, call(t, http.MethodPost, url+"/users", `{"name":"Ana","age":30}`), "Usuario")
	bob := createdID(t, call(t, http.MethodPost, url+"/users", `{"name":"Bob","age":41}`), "Usuario")
	lamp := createdID(t, call(t, http.MethodPost, url+"/items", `{"name":"Lamp","description":"desk lamp","price":19.5}`), "Item")

	// READ
	res := call(t, http.MethodGet, url+"/users/"+ana, "")
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `{"id":"`+ana+`","name":"Ana","age":30}`, res.body)

	// DUPLICATE
	res = call(t, http.MethodPost, url+"/users", `{"name":"Ana","age":30}`)
	assert.Equal(t, http.StatusConflict, res.status)
	res = call(t, http.MethodPost, url+"/items", `{"name":"Lamp","description":"","price":1}`)
	assert.Equal(t, http.StatusConflict, res.status)

	// UPDATE
	res = call(t, http.MethodPut, url+"/items/"+lamp, `{"price":899.99}`)
	assert.Equal(t, http.StatusOK, res.status)
	res = call(t, http.MethodGet, url+"/items/"+lamp, "")
	assert.JSONEq(t, `{"id":"`+lamp+`","name":"Lamp","description":"desk lamp","price":899.99}`, res.body)

	// an update onto another user's natural key is rejected by the store
	res = call(t, http.MethodPut, url+"/users/"+bob, `{"name":"Ana","age":30}`)
	assert.Equal(t, http.StatusConflict, res.status)

	// LIST
	res = call(t, http.MethodGet, url+"/users", "")
	var users []userView
	require.NoError(t, json.Unmarshal([]byte(res.body), &users))
	assert.Len(t, users, 2)

	// DELETE
	for _, path := range []string{"/users/" + ana, "/users/" + bob, "/items/" + lamp} {
		res = call(t, http.MethodDelete, url+path, "")
		assert.Equal(t, http.StatusOK, res.status, path)
		res = call(t, http.MethodGet, url+path, "")
		assert.Equal(t, http.StatusNotFound, res.status, path)
	}

	// the natural key is free again after delete
	createdID(t, call(t, http.MethodPost, url+"/users", `{"name":"Ana","age":30}`), "Usuario")

	res = call(t, http.MethodGet, url+"/items", "")
	assert.JSONEq(t, `[]`, res.body)
}

// newTestLogger returns a logger that outputs to stdout for test visibility.
func newTestLogger() *log.Logger {
	if testing.Verbose() {
		return log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}
