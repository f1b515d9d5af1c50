package main

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotFound is returned when no document matches in the store.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned when a write would break a natural-key unique constraint.
var ErrDuplicate = errors.New("duplicate natural key")

// storeStatus maps a store error to the HTTP status reported to the client.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return http.StatusGatewayTimeout
	case mongo.IsNetworkError(err):
		return http.StatusServiceUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
