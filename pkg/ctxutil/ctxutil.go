package ctxutil

import (
	"context"
)

type ctxKey string

const (
	authorKey    ctxKey = "author"
	requestIDKey ctxKey = "request_id"
)

// WithAuthor stores the acting operator's name in the context. History
// records created within the call chain are attributed to it.
func WithAuthor(ctx context.Context, author string) context.Context {
	return context.WithValue(ctx, authorKey, author)
}

// AuthorFromCtx extracts the author from the context.
// Returns "" and false when absent or empty.
func AuthorFromCtx(ctx context.Context) (string, bool) {
	author, ok := ctx.Value(authorKey).(string)
	if !ok || author == "" {
		return "", false
	}
	return author, true
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
// Returns an empty string if absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
