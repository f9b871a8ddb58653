package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Backend selects which Google endpoint serves the model.
type Backend string

const (
	BackendGeminiAPI Backend = "gemini"
	BackendVertexAI  Backend = "vertex"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	defaultTimeout = 120 * time.Second
	cloudScope     = "https://www.googleapis.com/auth/cloud-platform"

	RoleUser  = "user"
	RoleModel = "model"
)

// Config describes how to reach Gemini.
type Config struct {
	APIKey          string
	Model           string
	Backend         Backend
	Project         string
	Location        string
	CredentialsFile string
	Timeout         time.Duration
	RatePerMinute   int
}

// Image is an inline floorplan attached to a message.
type Image struct {
	Data     []byte
	MIMEType string
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role string
	Text string
}

// Reply is the model's answer to a single message.
type Reply struct {
	Text           string `json:"text"`
	Model          string `json:"model"`
	FinishReason   string `json:"finish_reason,omitempty"`
	PromptTokens   int    `json:"prompt_tokens,omitempty"`
	ResponseTokens int    `json:"response_tokens,omitempty"`
}

// Session is a multi-turn chat with fixed generation settings.
type Session interface {
	Send(ctx context.Context, prompt string, image *Image) (Reply, error)
}

type chatSender interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatFactory func(ctx context.Context, apiKey, model string, history []*genai.Content) (chatSender, error)

// Client opens chat sessions against Gemini.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
	newChat chatFactory

	mu      sync.Mutex
	clients map[string]*genai.Client
	creds   *auth.Credentials
}

// NewClient validates the configuration and prepares a client. SDK clients are
// created lazily because the API key may arrive with the request.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	cfg.Model = normalizeModel(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendGeminiAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch cfg.Backend {
	case BackendGeminiAPI:
	case BackendVertexAI:
		if strings.TrimSpace(cfg.Project) == "" || strings.TrimSpace(cfg.Location) == "" {
			return nil, fmt.Errorf("llm: vertex backend requires project and location")
		}
	default:
		return nil, fmt.Errorf("llm: unknown backend %q", cfg.Backend)
	}

	c := &Client{
		cfg:     cfg,
		log:     logger.With().Str("component", "llm").Logger(),
		clients: make(map[string]*genai.Client),
	}
	if cfg.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 2)
	}
	c.newChat = c.openChat
	return c, nil
}

// Model returns the model used for ctx, honouring WithModel overrides.
func (c *Client) Model(ctx context.Context) string {
	if override := modelFromContext(ctx); override != "" {
		return override
	}
	return c.cfg.Model
}

// StartChat opens a session seeded with history.
func (c *Client) StartChat(ctx context.Context, history []Turn) (Session, error) {
	model := c.Model(ctx)
	sender, err := c.newChat(ctx, apiKeyFromContext(ctx), model, toContents(history))
	if err != nil {
		return nil, err
	}
	return &chat{client: c, sender: sender, model: model}, nil
}

// GenerationConfig returns the fixed sampling and safety settings used for every estimate.
func GenerationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      float32Ptr(0),
		TopP:             float32Ptr(0.95),
		TopK:             float32Ptr(64),
		MaxOutputTokens:  8192,
		ResponseMIMEType: "text/plain",
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}
}

func (c *Client) openChat(ctx context.Context, apiKey, model string, history []*genai.Content) (chatSender, error) {
	gc, err := c.sdkClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	session, err := gc.Chats.Create(ctx, model, GenerationConfig(), history)
	if err != nil {
		return nil, fmt.Errorf("llm: create chat: %w", err)
	}
	return session, nil
}

// sdkClient returns a cached genai client. Request supplied keys always use the Gemini API.
func (c *Client) sdkClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	backend := c.cfg.Backend
	if apiKey != "" {
		backend = BackendGeminiAPI
	} else {
		apiKey = strings.TrimSpace(c.cfg.APIKey)
	}
	if backend == BackendGeminiAPI && apiKey == "" {
		return nil, ErrMissingCredentials
	}

	cacheKey := string(backend) + ":" + apiKey
	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.clients[cacheKey]; ok {
		return gc, nil
	}

	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: apiKey}
	if backend == BackendVertexAI {
		creds, err := c.vertexCredentials()
		if err != nil {
			return nil, err
		}
		cc = &genai.ClientConfig{
			Backend:     genai.BackendVertexAI,
			Project:     c.cfg.Project,
			Location:    c.cfg.Location,
			Credentials: creds,
		}
	}

	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	c.clients[cacheKey] = gc
	return gc, nil
}

// vertexCredentials loads the service account file when one is configured,
// otherwise application default credentials are left to the SDK.
func (c *Client) vertexCredentials() (*auth.Credentials, error) {
	if c.creds != nil || strings.TrimSpace(c.cfg.CredentialsFile) == "" {
		return c.creds, nil
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudScope},
		CredentialsFile: c.cfg.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	c.creds = creds
	return creds, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

type chat struct {
	client *Client
	sender chatSender
	model  string
}

// Send posts the prompt, followed by the image when present, and returns the first candidate's text.
func (s *chat) Send(ctx context.Context, prompt string, image *Image) (Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		return Reply{}, fmt.Errorf("llm: prompt is required")
	}
	if err := s.client.wait(ctx); err != nil {
		return Reply{}, fmt.Errorf("llm: rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.cfg.Timeout)
	defer cancel()

	parts := []genai.Part{*genai.NewPartFromText(prompt)}
	if image != nil && len(image.Data) > 0 {
		parts = append(parts, *genai.NewPartFromBytes(image.Data, image.MIMEType))
	}

	start := time.Now()
	resp, err := s.sender.SendMessage(ctx, parts...)
	if err != nil {
		s.client.log.Warn().Err(err).Str("model", s.model).Dur("duration", time.Since(start)).Msg("gemini call failed")
		return Reply{}, wrapSendError(err)
	}

	reply, err := replyFrom(resp)
	if err != nil {
		return Reply{}, err
	}
	reply.Model = s.model

	s.client.log.Debug().
		Str("model", s.model).
		Int("prompt_length", len(prompt)).
		Bool("with_image", image != nil).
		Int("prompt_tokens", reply.PromptTokens).
		Int("response_tokens", reply.ResponseTokens).
		Dur("duration", time.Since(start)).
		Msg("gemini call completed")
	return reply, nil
}

func replyFrom(resp *genai.GenerateContentResponse) (Reply, error) {
	if resp == nil {
		return Reply{}, ErrEmptyReply
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return Reply{}, fmt.Errorf("%w: %s %s", ErrBlocked, fb.BlockReason, fb.BlockReasonMessage)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return Reply{}, ErrEmptyReply
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return Reply{}, fmt.Errorf("%w: %s", ErrBlocked, candidate.FinishReason)
	}

	var parts []string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	if len(parts) == 0 {
		return Reply{}, ErrEmptyReply
	}

	reply := Reply{
		Text:         strings.Join(parts, "\n\n"),
		FinishReason: string(candidate.FinishReason),
	}
	if usage := resp.UsageMetadata; usage != nil {
		reply.PromptTokens = int(usage.PromptTokenCount)
		reply.ResponseTokens = int(usage.CandidatesTokenCount)
	}
	return reply, nil
}

func toContents(history []Turn) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := RoleUser
		switch strings.ToLower(strings.TrimSpace(turn.Role)) {
		case RoleModel, "assistant":
			role = RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}
	return contents
}

func float32Ptr(v float32) *float32 {
	return &v
}
