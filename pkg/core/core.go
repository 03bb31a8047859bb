package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// StoreKey is a custom context key type for storing the CredentialStore in context.
type StoreKey struct{}

// SessionKey is a custom context key type for storing the session ID in context.
type SessionKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// RequestIDFromContext returns the request ID stored in ctx, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	return reqID
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if sid := SessionFromContext(ctx); sid != "" {
		logger = logger.With("session_id", sid)
	}
	return logger
}

// WithSession returns a new context carrying the given session ID.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionKey{}, sessionID)
}

// SessionFromContext returns the session ID stored in ctx, or an empty string.
func SessionFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SessionKey{}).(string)
	return sid
}

// WithStore returns a new context with the provided CredentialStore set.
func WithStore(ctx context.Context, store CredentialStore) context.Context {
	return context.WithValue(ctx, StoreKey{}, store)
}

// StoreFromContext retrieves the CredentialStore from the context.
// Returns the store if present, or an error if missing.
func StoreFromContext(ctx context.Context) (CredentialStore, error) {
	store, ok := ctx.Value(StoreKey{}).(CredentialStore)
	if !ok {
		return nil, fmt.Errorf("missing store")
	}
	return store, nil
}
