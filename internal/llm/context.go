package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type contextKey string

const (
	modelContextKey  contextKey = "llm-model-override"
	apiKeyContextKey contextKey = "llm-api-key-override"
)

// WithModel returns a context carrying a preferred model override.
func WithModel(ctx context.Context, model string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	model = normalizeModel(model)
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelContextKey, model)
}

// WithAPIKey returns a context carrying a caller supplied Gemini API key.
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey, apiKey)
}

// CredentialID identifies the API key a call made with ctx would use without
// exposing it. It is empty when the server's own credentials apply.
func CredentialID(ctx context.Context) string {
	key := apiKeyFromContext(ctx)
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func modelFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(modelContextKey).(string); ok {
		return normalizeModel(value)
	}
	return ""
}

func apiKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(apiKeyContextKey).(string)
	return value
}

func normalizeModel(model string) string {
	clean := strings.TrimSpace(model)
	return strings.TrimPrefix(clean, "models/")
}
