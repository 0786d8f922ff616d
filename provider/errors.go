package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/pricewatch/harvester/models"
)

// ErrTimeout indicates the attempt exceeded its strategy timeout.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates a defensive measure stopped the attempt mid-way.
type ErrBlocked struct {
	Err error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked: %w", e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrResource indicates a pooled browser failed to start or crashed.
type ErrResource struct {
	Err error
}

func (e ErrResource) Error() string {
	return fmt.Errorf("resource: %w", e.Err).Error()
}

func (e ErrResource) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// Classify maps an attempt error plus optional HTTP status to the error
// taxonomy used across logs, metrics, and results.
func Classify(err error, statusCode int) models.ErrorKind {
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return models.ErrKindBlocked
	}
	var resource ErrResource
	if errors.As(err, &resource) {
		return models.ErrKindResource
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return models.ErrKindTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrKindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.ErrKindConnect
	}

	switch statusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return models.ErrKindBlocked
	case http.StatusNotFound:
		return models.ErrKindNotFound
	}
	if statusCode >= http.StatusBadRequest {
		return models.ErrKindOther
	}

	if err == nil {
		return ""
	}
	return models.ErrKindOther
}
