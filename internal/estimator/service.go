// Package estimator runs a floorplan and its prompt through Gemini and records the result.
package estimator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"paintEstimator/internal/events"
	"paintEstimator/internal/floorplan"
	"paintEstimator/internal/llm"
	"paintEstimator/internal/media"
	"paintEstimator/internal/metrics"
	"paintEstimator/internal/prompts"
	"paintEstimator/internal/storage"
)

// ErrNoImage is returned when a request has no floorplan attached.
var ErrNoImage = errors.New("estimator: floorplan image is required")

// ChatClient opens Gemini chat sessions.
type ChatClient interface {
	StartChat(ctx context.Context, history []llm.Turn) (llm.Session, error)
	Model(ctx context.Context) string
}

// Publisher receives status changes.
type Publisher interface {
	Publish(evt events.Event)
}

// Request is one estimate submission.
type Request struct {
	Form         prompts.FormState
	CustomPrompt string
	UseCustom    bool
	Image        floorplan.Image
	JSON         bool
}

// Service ties prompt building, the model, storage and uploads together.
type Service struct {
	Store    storage.Store
	Uploader media.Uploader
	Chat     ChatClient
	Events   Publisher
	Log      zerolog.Logger

	replies *cache.Cache
}

// New builds a Service. A zero cacheTTL disables the reply cache.
func New(store storage.Store, uploader media.Uploader, chat ChatClient, publisher Publisher, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	s := &Service{
		Store:    store,
		Uploader: uploader,
		Chat:     chat,
		Events:   publisher,
		Log:      logger.With().Str("component", "estimator").Logger(),
	}
	if cacheTTL > 0 {
		s.replies = cache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// Preview returns the prompt that would be sent for the given inputs.
func (s *Service) Preview(form prompts.FormState, custom string, useCustom bool) (string, error) {
	return prompts.Resolve(form, custom, useCustom)
}

// Run sends the floorplan and prompt to the model and stores the outcome.
// Prompt and image errors are returned before anything is stored. Once a
// record exists it is returned alongside any model error.
func (s *Service) Run(ctx context.Context, req Request) (storage.Estimate, error) {
	prompt, err := prompts.Resolve(req.Form, req.CustomPrompt, req.UseCustom)
	if err != nil {
		return storage.Estimate{}, err
	}
	if len(req.Image.Data) == 0 {
		return storage.Estimate{}, ErrNoImage
	}

	start := time.Now()
	model := s.Chat.Model(ctx)
	rec, err := s.Store.CreateEstimate(ctx, storage.Estimate{
		Form:         req.Form,
		Prompt:       prompt,
		CustomPrompt: req.UseCustom,
		Model:        model,
		Image: storage.ImageRef{
			Filename: req.Image.Filename,
			MIMEType: req.Image.MIMEType,
			Width:    req.Image.Width,
			Height:   req.Image.Height,
			Size:     req.Image.Size(),
		},
		Status: storage.StatusEstimating,
	})
	if err != nil {
		return storage.Estimate{}, fmt.Errorf("estimator: create estimate: %w", err)
	}
	s.publish(rec)
	log := s.Log.With().Str("estimate_id", rec.ID).Str("model", model).Logger()

	var (
		upload  media.UploadResult
		reply   llm.Reply
		session llm.Session
		cached  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		upload = s.upload(gctx, req.Image, log)
		return nil
	})
	g.Go(func() error {
		var err error
		reply, session, cached, err = s.ask(gctx, model, prompt, req.Image)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("estimate failed")
		rec.Image.Key, rec.Image.URL = upload.Key, upload.URL
		return s.fail(ctx, rec, start, err)
	}

	rec.Image.Key, rec.Image.URL = upload.Key, upload.URL
	rec.Answer = reply.Text
	rec.PromptTokens = reply.PromptTokens
	rec.ResponseTokens = reply.ResponseTokens
	rec.Cached = cached

	if req.JSON {
		rec.Status = storage.StatusRefining
		if updated, err := s.Store.UpdateEstimate(ctx, rec); err == nil {
			rec = updated
		}
		s.publish(rec)

		if data, err := s.refine(ctx, rec, session); err != nil {
			// The prose answer stands; the failed conversion is recorded alongside it.
			log.Warn().Err(err).Msg("json refinement failed")
			rec.Error = err.Error()
		} else {
			rec.JSON = data
		}
	}

	rec.Status = storage.StatusDone
	rec, err = s.save(ctx, rec)
	if err != nil {
		return rec, err
	}
	s.publish(rec)

	metrics.EstimatesTotal.WithLabelValues(string(storage.StatusDone)).Inc()
	metrics.EstimateDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Bool("cached", cached).
		Bool("json", len(rec.JSON) > 0).
		Dur("duration", time.Since(start)).
		Msg("estimate completed")
	return rec, nil
}

// Refine asks for the JSON form of a stored answer. Estimates that already
// carry JSON are returned unchanged.
func (s *Service) Refine(ctx context.Context, id string) (storage.Estimate, error) {
	rec, err := s.Store.GetEstimate(ctx, id)
	if err != nil {
		return storage.Estimate{}, err
	}
	if len(rec.JSON) > 0 {
		return rec, nil
	}
	if rec.Status != storage.StatusDone || rec.Answer == "" {
		return rec, fmt.Errorf("estimator: estimate %s has no answer to refine (status %s)", rec.ID, rec.Status)
	}

	data, err := s.refine(ctx, rec, nil)
	if err != nil {
		return rec, err
	}

	rec.JSON = data
	rec.Error = ""
	rec, err = s.save(ctx, rec)
	if err != nil {
		return rec, err
	}
	s.publish(rec)
	return rec, nil
}

// ask returns the model's answer and the live session, or a cached answer
// with a nil session.
func (s *Service) ask(ctx context.Context, model, prompt string, image floorplan.Image) (llm.Reply, llm.Session, bool, error) {
	key := cacheKey(llm.CredentialID(ctx), model, prompt, image.Data)
	if reply, ok := s.cached(key); ok {
		metrics.CacheHitsTotal.Inc()
		return reply, nil, true, nil
	}

	session, err := s.Chat.StartChat(ctx, nil)
	if err != nil {
		metrics.GeminiCallsTotal.WithLabelValues("estimate", "error").Inc()
		return llm.Reply{}, nil, false, err
	}
	reply, err := session.Send(ctx, prompt, &llm.Image{Data: image.Data, MIMEType: image.MIMEType})
	if err != nil {
		metrics.GeminiCallsTotal.WithLabelValues("estimate", "error").Inc()
		return llm.Reply{}, nil, false, err
	}
	metrics.GeminiCallsTotal.WithLabelValues("estimate", "ok").Inc()
	countTokens(reply)
	s.store(key, reply)
	return reply, session, false, nil
}

// refine continues session, or resumes the stored conversation when session is
// nil, and asks for JSON only. The floorplan is not sent again.
func (s *Service) refine(ctx context.Context, rec storage.Estimate, session llm.Session) (json.RawMessage, error) {
	instruction := prompts.RefinementPrompt(rec.Form)
	key := cacheKey(llm.CredentialID(ctx), rec.Model, rec.Prompt+"\x00"+rec.Answer+"\x00"+instruction, nil)

	reply, ok := s.cached(key)
	if !ok {
		if session == nil {
			var err error
			session, err = s.Chat.StartChat(llm.WithModel(ctx, rec.Model), []llm.Turn{
				{Role: llm.RoleUser, Text: rec.Prompt},
				{Role: llm.RoleModel, Text: rec.Answer},
			})
			if err != nil {
				metrics.GeminiCallsTotal.WithLabelValues("refine", "error").Inc()
				return nil, err
			}
		}
		var err error
		reply, err = session.Send(ctx, instruction, nil)
		if err != nil {
			metrics.GeminiCallsTotal.WithLabelValues("refine", "error").Inc()
			return nil, err
		}
		metrics.GeminiCallsTotal.WithLabelValues("refine", "ok").Inc()
		countTokens(reply)
	}

	data, err := ExtractJSON(reply.Text)
	if err != nil {
		return nil, err
	}
	s.store(key, reply)
	return data, nil
}

// save writes rec back to the store. A record the store dropped while the
// model was answering is inserted again under the same ID. On failure the
// unsaved rec is returned so the answer is not lost.
func (s *Service) save(ctx context.Context, rec storage.Estimate) (storage.Estimate, error) {
	updated, err := s.Store.UpdateEstimate(ctx, rec)
	if errors.Is(err, storage.ErrNotFound) {
		s.Log.Warn().Str("estimate_id", rec.ID).Msg("estimate evicted before completion, storing it again")
		updated, err = s.Store.CreateEstimate(ctx, rec)
	}
	if err != nil {
		return rec, fmt.Errorf("estimator: save estimate: %w", err)
	}
	return updated, nil
}

func (s *Service) upload(ctx context.Context, image floorplan.Image, log zerolog.Logger) media.UploadResult {
	if s.Uploader == nil {
		return media.UploadResult{}
	}
	res, err := s.Uploader.Upload(ctx, media.UploadInput{
		Filename:    image.Filename,
		ContentType: image.MIMEType,
		Body:        bytes.NewReader(image.Data),
		Size:        image.Size(),
	})
	switch {
	case errors.Is(err, media.ErrUploaderDisabled):
		metrics.UploadsTotal.WithLabelValues("disabled").Inc()
	case err != nil:
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("floorplan upload failed")
	default:
		metrics.UploadsTotal.WithLabelValues("ok").Inc()
	}
	return res
}

func (s *Service) fail(ctx context.Context, rec storage.Estimate, start time.Time, cause error) (storage.Estimate, error) {
	rec.Status = storage.StatusFailed
	rec.Error = cause.Error()

	// The caller may have gone away; the failure is still recorded.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if updated, err := s.Store.UpdateEstimate(saveCtx, rec); err == nil {
		rec = updated
	} else {
		s.Log.Error().Err(err).Str("estimate_id", rec.ID).Msg("could not record failed estimate")
	}
	s.publish(rec)

	metrics.EstimatesTotal.WithLabelValues(string(storage.StatusFailed)).Inc()
	metrics.EstimateDuration.Observe(time.Since(start).Seconds())
	return rec, cause
}

func (s *Service) publish(rec storage.Estimate) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.Event{EstimateID: rec.ID, Status: rec.Status, Error: rec.Error})
}

func (s *Service) cached(key string) (llm.Reply, bool) {
	if s.replies == nil {
		return llm.Reply{}, false
	}
	v, ok := s.replies.Get(key)
	if !ok {
		return llm.Reply{}, false
	}
	reply, ok := v.(llm.Reply)
	return reply, ok
}

func (s *Service) store(key string, reply llm.Reply) {
	if s.replies == nil {
		return
	}
	s.replies.Set(key, reply, cache.DefaultExpiration)
}

func countTokens(reply llm.Reply) {
	metrics.GeminiTokensTotal.WithLabelValues("prompt").Add(float64(reply.PromptTokens))
	metrics.GeminiTokensTotal.WithLabelValues("response").Add(float64(reply.ResponseTokens))
}

// cacheKey scopes replies to the caller's credential so a request key never
// reads answers paid for by another key.
func cacheKey(credential, model, prompt string, image []byte) string {
	h := sha256.New()
	h.Write([]byte(credential))
	h.Write([]byte{0})
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
