// Package estimates serves the paint estimate HTTP API.
package estimates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"paintEstimator/internal/estimator"
	"paintEstimator/internal/events"
	"paintEstimator/internal/floorplan"
	"paintEstimator/internal/llm"
	"paintEstimator/internal/prompts"
	"paintEstimator/internal/storage"
)

var errBadUpload = errors.New("could not read floorplan")

const (
	apiKeyHeader = "X-Gemini-Api-Key"
	modelHeader  = "X-Gemini-Model"
)

// Estimator is the orchestration the handlers drive.
type Estimator interface {
	Run(ctx context.Context, req estimator.Request) (storage.Estimate, error)
	Refine(ctx context.Context, id string) (storage.Estimate, error)
	Preview(form prompts.FormState, custom string, useCustom bool) (string, error)
}

// Handler bundles dependencies for estimate endpoints.
type Handler struct {
	Estimator  Estimator
	Store      storage.Store
	Events     *events.Broker
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// PromptRequest is the body of POST /api/prompt. A missing form means the defaults.
type PromptRequest struct {
	Form         *prompts.FormState `json:"form,omitempty"`
	CustomPrompt string             `json:"custom_prompt,omitempty"`
	UseCustom    bool               `json:"use_custom_prompt,omitempty"`
}

// Defaults handles GET /api/defaults.
func (h Handler) Defaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, prompts.DefaultFormState())
}

// Prompt handles POST /api/prompt.
func (h Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	form := prompts.DefaultFormState()
	if req.Form != nil {
		form = *req.Form
	}

	prompt, err := h.Estimator.Preview(form, req.CustomPrompt, req.UseCustom)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

// Create handles POST /api/estimates.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(floorplan.MaxImageBytes + (1 << 20)); err != nil {
		http.Error(w, fmt.Sprintf("invalid multipart payload: %v", err), http.StatusBadRequest)
		return
	}

	form, err := formFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := estimator.Request{
		Form:         form,
		CustomPrompt: r.FormValue("custom_prompt"),
	}
	if req.UseCustom, err = optionalBool(r.FormValue("use_custom_prompt")); err != nil {
		http.Error(w, "invalid use_custom_prompt", http.StatusBadRequest)
		return
	}
	if req.JSON, err = optionalBool(r.FormValue("json")); err != nil {
		http.Error(w, "invalid json flag", http.StatusBadRequest)
		return
	}

	req.Image, err = h.readFloorplan(r)
	if err != nil {
		http.Error(w, err.Error(), statusForInput(err))
		return
	}

	ctx := r.Context()
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		ctx = llm.WithAPIKey(ctx, key)
	}
	if model := strings.TrimSpace(r.Header.Get(modelHeader)); model != "" {
		ctx = llm.WithModel(ctx, model)
	}

	estimate, err := h.Estimator.Run(ctx, req)
	if err != nil {
		if estimate.ID == "" {
			http.Error(w, err.Error(), statusForInput(err))
			return
		}
		h.Log.Warn().Err(err).Str("estimate_id", estimate.ID).Msg("estimate failed")
		w.Header().Set("X-Estimate-Id", estimate.ID)
		http.Error(w, err.Error(), llm.StatusCode(err))
		return
	}

	writeJSON(w, http.StatusCreated, estimate)
}

// List handles GET /api/estimates.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListEstimates(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/estimates/{id}.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	estimate, err := h.Store.GetEstimate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// RefineJSON handles POST /api/estimates/{id}/json.
func (h Handler) RefineJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		ctx = llm.WithAPIKey(ctx, key)
	}

	estimate, err := h.Estimator.Refine(ctx, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, estimator.ErrNoJSON):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil && estimate.Status != storage.StatusDone:
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), llm.StatusCode(err))
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// Delete handles DELETE /api/estimates/{id}.
func (h Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteEstimate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents handles GET /api/events as a server-sent event stream.
func (h Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "event stream inactive", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// The stream outlives the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.Log.Debug().Err(err).Msg("event stream keeps the server write timeout")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.Events.Subscribe()
	defer h.Events.Unsubscribe(ch)

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h Handler) readFloorplan(r *http.Request) (floorplan.Image, error) {
	file, header, err := r.FormFile("floorplan")
	switch {
	case err == nil:
		defer file.Close()
		return floorplan.Read(file, header.Filename)
	case !errors.Is(err, http.ErrMissingFile):
		return floorplan.Image{}, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	imageURL := strings.TrimSpace(r.FormValue("image_url"))
	if imageURL == "" {
		return floorplan.Image{}, estimator.ErrNoImage
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return floorplan.Fetch(r.Context(), client, imageURL)
}

// statusForInput maps rejected input to 4xx and anything else to 502.
func statusForInput(err error) int {
	switch {
	case errors.Is(err, floorplan.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, floorplan.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, floorplan.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, floorplan.ErrEmpty),
		errors.Is(err, floorplan.ErrCorrupt),
		errors.Is(err, estimator.ErrNoImage),
		errors.Is(err, errBadUpload),
		prompts.IsInvalid(err):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func optionalBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return parseCheckbox(raw)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
