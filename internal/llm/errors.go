package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

var (
	// ErrMissingCredentials is returned when neither an API key nor Vertex AI settings are available.
	ErrMissingCredentials = errors.New("llm: missing Gemini API key or Vertex AI credentials")
	// ErrBlocked is returned when the prompt or the answer tripped a safety threshold.
	ErrBlocked = errors.New("llm: response blocked by safety settings")
	// ErrEmptyReply is returned when the model answered without any text.
	ErrEmptyReply = errors.New("llm: model returned no text")
)

// APIError carries the status and message reported by the Gemini API.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.Code, e.Message)
}

func wrapSendError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	return fmt.Errorf("llm: send message: %w", err)
}

// StatusCode maps an llm error onto the HTTP status a caller should report.
func StatusCode(err error) int {
	var apiErr *APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return http.StatusTooManyRequests
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return http.StatusBadRequest
		}
	}
	return http.StatusBadGateway
}
