package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

// record is a stored document that renders itself for responses.
type record interface {
	view() any
}

type createRequest interface {
	validate() error
	naturalKey() bson.M
	document() any
}

type updateRequest interface {
	fields() bson.M
}

// resource describes one collection and the wording of its responses.
type resource struct {
	// name is used in GET not-found and invalid-id responses.
	name string
	// label prefixes every write response.
	label      string
	collection string
	uniqueKey  []string
	newCreate  func() createRequest
	newUpdate  func() updateRequest
}

var userResource = resource{
	name:       "User",
	label:      "Usuario",
	collection: "users",
	uniqueKey:  []string{"name", "age"},
	newCreate:  func() createRequest { return &CreateUserRequest{} },
	newUpdate:  func() updateRequest { return &UpdateUserRequest{} },
}

var itemResource = resource{
	name:       "Item",
	label:      "Item",
	collection: "items",
	uniqueKey:  []string{"name"},
	newCreate:  func() createRequest { return &CreateItemRequest{} },
	newUpdate:  func() updateRequest { return &UpdateItemRequest{} },
}

// Handler handles HTTP requests for one resource whose documents decode into T.
type Handler[T record] struct {
	res    resource
	store  Store
	logger *log.Logger
}

// NewHandler creates a Handler with dependencies.
func NewHandler[T record](res resource, store Store, logger *log.Logger) *Handler[T] {
	return &Handler[T]{res: res, store: store, logger: logger}
}

// ServeHTTP picks the operation from the method and the optional id segment.
func (h *Handler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := pathID(r.URL.Path)
	switch {
	case r.Method == http.MethodGet && id == "":
		h.handleList(w, r)
	case r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case r.Method == http.MethodPut && id != "":
		h.handleUpdate(w, r, id)
	case r.Method == http.MethodDelete && id != "":
		h.handleDelete(w, r, id)
	default:
		endpointNotFound(w, r)
	}
}

// handleList processes GET /<collection>.
func (h *Handler[T]) handleList(w http.ResponseWriter, r *http.Request) {
	var records []T
	if err := h.store.FindAll(r.Context(), h.res.collection, &records); err != nil {
		h.fail(w, "listing", err)
		return
	}
	views := make([]any, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.view())
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGet processes GET /<collection>/{id}.
func (h *Handler[T]) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	oid, ok := h.parseID(w, id)
	if !ok {
		return
	}
	var rec T
	err := h.store.FindByID(r.Context(), h.res.collection, oid, &rec)
	if errors.Is(err, ErrNotFound) {
		writeText(w, http.StatusNotFound, h.res.name+" not found")
		return
	}
	if err != nil {
		h.fail(w, "getting", err)
		return
	}
	writeJSON(w, http.StatusOK, rec.view())
}

// handleCreate processes POST /<collection>.
func (h *Handler[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	req := h.res.newCreate()
	if err := decodeJSON(w, r, req); err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	var existing T
	err := h.store.FindOne(r.Context(), h.res.collection, req.naturalKey(), &existing)
	if err == nil {
		h.conflict(w)
		return
	}
	if !errors.Is(err, ErrNotFound) {
		h.fail(w, "checking duplicate", err)
		return
	}

	oid, err := h.store.Insert(r.Context(), h.res.collection, req.document())
	if errors.Is(err, ErrDuplicate) {
		h.conflict(w)
		return
	}
	if err != nil {
		h.fail(w, "creating", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/%s/%s", h.res.collection, oid.Hex()))
	writeText(w, http.StatusCreated, h.res.label+" con id: "+oid.Hex())
}

// handleUpdate processes PUT /<collection>/{id}.
func (h *Handler[T]) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	oid, ok := h.parseID(w, id)
	if !ok {
		return
	}
	req := h.res.newUpdate()
	if err := decodeJSON(w, r, req); err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err))
		return
	}

	err := h.store.UpdateByID(r.Context(), h.res.collection, oid, req.fields())
	switch {
	case err == nil:
		writeText(w, http.StatusOK, h.res.label+" actualizado")
	case errors.Is(err, ErrNotFound):
		writeText(w, http.StatusNotFound, h.res.label+" no encontrado")
	case errors.Is(err, ErrDuplicate):
		h.conflict(w)
	default:
		h.fail(w, "updating", err)
	}
}

// handleDelete processes DELETE /<collection>/{id}.
func (h *Handler[T]) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	oid, ok := h.parseID(w, id)
	if !ok {
		return
	}
	err := h.store.DeleteByID(r.Context(), h.res.collection, oid)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, h.res.label+" eliminado")
	case errors.Is(err, ErrNotFound):
		writeText(w, http.StatusNotFound, h.res.label+" no encontrado")
	default:
		h.fail(w, "deleting", err)
	}
}

func (h *Handler[T]) parseID(w http.ResponseWriter, id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid "+strings.ToLower(h.res.name)+" id")
		return primitive.NilObjectID, false
	}
	return oid, true
}

func (h *Handler[T]) conflict(w http.ResponseWriter) {
	writeText(w, http.StatusConflict, h.res.label+" ya existe en la base de datos")
}

// fail logs a store error and answers with the status it maps to.
func (h *Handler[T]) fail(w http.ResponseWriter, op string, err error) {
	status := storeStatus(err)
	h.logger.Printf("error %s %s: %v", op, h.res.collection, err)
	writeText(w, status, http.StatusText(status))
}

// endpointNotFound answers any request no resource accepts.
func endpointNotFound(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusBadRequest, "Endpoint not found")
}

// pathID returns the second path segment, or "" for collection-level paths.
func pathID(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object with no unknown fields into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return ensureSingleJSON(dec)
}

// ensureSingleJSON ensures only a single JSON object is in the request body.
func ensureSingleJSON(dec *json.Decoder) error {
	if t, err := dec.Token(); err != io.EOF || t != nil {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}
