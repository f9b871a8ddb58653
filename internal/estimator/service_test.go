package estimator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paintEstimator/internal/events"
	"paintEstimator/internal/floorplan"
	"paintEstimator/internal/llm"
	"paintEstimator/internal/media"
	"paintEstimator/internal/prompts"
	"paintEstimator/internal/storage"
)

type mockChat struct{ mock.Mock }

func (m *mockChat) StartChat(ctx context.Context, history []llm.Turn) (llm.Session, error) {
	args := m.Called(ctx, history)
	session, _ := args.Get(0).(llm.Session)
	return session, args.Error(1)
}

func (m *mockChat) Model(context.Context) string { return "gemini-test" }

type mockSession struct{ mock.Mock }

func (m *mockSession) Send(ctx context.Context, prompt string, image *llm.Image) (llm.Reply, error) {
	args := m.Called(ctx, prompt, image)
	return args.Get(0).(llm.Reply), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) statuses() []storage.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]storage.Status, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

type stubUploader struct {
	result media.UploadResult
	err    error
}

func (u stubUploader) Upload(context.Context, media.UploadInput) (media.UploadResult, error) {
	return u.result, u.err
}

func testImage() floorplan.Image {
	return floorplan.Image{Data: []byte("png-bytes"), Filename: "plan.png", MIMEType: "image/png", Width: 640, Height: 480}
}

func newService(chat ChatClient, uploader media.Uploader, ttl time.Duration) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	return New(storage.NewInMemoryStore(), uploader, chat, pub, ttl, zerolog.Nop()), pub
}

func TestRunStoresAnswer(t *testing.T) {
	form := prompts.DefaultFormState()
	prompt, err := prompts.Build(form)
	require.NoError(t, err)

	session := &mockSession{}
	session.On("Send", mock.Anything, prompt, mock.MatchedBy(func(img *llm.Image) bool {
		return img != nil && img.MIMEType == "image/png" && string(img.Data) == "png-bytes"
	})).Return(llm.Reply{Text: "You need about 20 litres.", PromptTokens: 300, ResponseTokens: 40}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, []llm.Turn(nil)).Return(session, nil).Once()

	svc, pub := newService(chat, stubUploader{result: media.UploadResult{Key: "floorplans/a.png", URL: "https://cdn/a.png"}}, 0)

	rec, err := svc.Run(context.Background(), Request{Form: form, Image: testImage()})
	require.NoError(t, err)

	assert.Equal(t, storage.StatusDone, rec.Status)
	assert.Equal(t, "You need about 20 litres.", rec.Answer)
	assert.Equal(t, prompt, rec.Prompt)
	assert.Equal(t, "gemini-test", rec.Model)
	assert.Equal(t, "https://cdn/a.png", rec.Image.URL)
	assert.Equal(t, 640, rec.Image.Width)
	assert.Equal(t, 300, rec.PromptTokens)
	assert.Empty(t, rec.JSON)
	assert.Equal(t, []storage.Status{storage.StatusEstimating, storage.StatusDone}, pub.statuses())

	stored, err := svc.Store.GetEstimate(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Answer, stored.Answer)

	chat.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestRunWithJSONRefinesInSameSession(t *testing.T) {
	form := prompts.DefaultFormState()

	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.AnythingOfType("*llm.Image")).
		Return(llm.Reply{Text: "Walls: 20 litres."}, nil).Once()
	session.On("Send", mock.Anything, prompts.RefinementPrompt(form), (*llm.Image)(nil)).
		Return(llm.Reply{Text: "```json\n{\"walls\": 20}\n```"}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, []llm.Turn(nil)).Return(session, nil).Once()

	svc, pub := newService(chat, media.Disabled(), 0)

	rec, err := svc.Run(context.Background(), Request{Form: form, Image: testImage(), JSON: true})
	require.NoError(t, err)

	assert.JSONEq(t, `{"walls": 20}`, string(rec.JSON))
	assert.Empty(t, rec.Error)
	assert.Empty(t, rec.Image.URL)
	assert.Equal(t, []storage.Status{storage.StatusEstimating, storage.StatusRefining, storage.StatusDone}, pub.statuses())
	chat.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestRunKeepsAnswerWhenRefinementHasNoJSON(t *testing.T) {
	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.AnythingOfType("*llm.Image")).
		Return(llm.Reply{Text: "Walls: 20 litres."}, nil).Once()
	session.On("Send", mock.Anything, mock.Anything, (*llm.Image)(nil)).
		Return(llm.Reply{Text: "Sorry, twenty litres."}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil)

	svc, _ := newService(chat, nil, 0)

	rec, err := svc.Run(context.Background(), Request{Form: prompts.DefaultFormState(), Image: testImage(), JSON: true})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDone, rec.Status)
	assert.Equal(t, "Walls: 20 litres.", rec.Answer)
	assert.Empty(t, rec.JSON)
	assert.Contains(t, rec.Error, "JSON")
}

func TestRunRecordsModelFailure(t *testing.T) {
	apiErr := &llm.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid"}
	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(llm.Reply{}, apiErr).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil)

	svc, pub := newService(chat, media.Disabled(), 0)

	rec, err := svc.Run(context.Background(), Request{Form: prompts.DefaultFormState(), Image: testImage()})
	require.Error(t, err)

	var target *llm.APIError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "API key not valid")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, []storage.Status{storage.StatusEstimating, storage.StatusFailed}, pub.statuses())
}

func TestRunRejectsBeforeStoring(t *testing.T) {
	chat := &mockChat{}
	svc, pub := newService(chat, nil, 0)

	invalid := prompts.DefaultFormState()
	invalid.Surfaces = prompts.Surfaces{}
	_, err := svc.Run(context.Background(), Request{Form: invalid, Image: testImage()})
	assert.ErrorIs(t, err, prompts.ErrNoSurface)

	_, err = svc.Run(context.Background(), Request{Form: prompts.DefaultFormState()})
	assert.ErrorIs(t, err, ErrNoImage)

	list, err := svc.Store.ListEstimates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, pub.statuses())
	chat.AssertNotCalled(t, "StartChat", mock.Anything, mock.Anything)
}

func TestRunUsesCustomPrompt(t *testing.T) {
	session := &mockSession{}
	session.On("Send", mock.Anything, "How much paint for the hallway?", mock.Anything).
		Return(llm.Reply{Text: "About 4 litres."}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil)

	svc, _ := newService(chat, nil, 0)

	form := prompts.DefaultFormState()
	form.Rooms = prompts.Rooms{}
	rec, err := svc.Run(context.Background(), Request{
		Form:         form,
		CustomPrompt: "How much paint for the hallway?",
		UseCustom:    true,
		Image:        testImage(),
	})
	require.NoError(t, err)
	assert.True(t, rec.CustomPrompt)
	assert.Equal(t, "How much paint for the hallway?", rec.Prompt)
	session.AssertExpectations(t)
}

func TestRunServesRepeatRequestsFromCache(t *testing.T) {
	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(llm.Reply{Text: "About 20 litres."}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil).Once()

	svc, _ := newService(chat, nil, time.Minute)
	req := Request{Form: prompts.DefaultFormState(), Image: testImage()}

	first, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.NotEqual(t, first.ID, second.ID)

	chat.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestRefineResumesStoredConversation(t *testing.T) {
	form := prompts.DefaultFormState()
	svc, _ := newService(&mockChat{}, nil, 0)

	rec, err := svc.Store.CreateEstimate(context.Background(), storage.Estimate{
		Form:   form,
		Prompt: "the prompt",
		Model:  "gemini-test",
		Answer: "Walls: 20 litres.",
		Status: storage.StatusDone,
	})
	require.NoError(t, err)

	session := &mockSession{}
	session.On("Send", mock.Anything, prompts.RefinementPrompt(form), (*llm.Image)(nil)).
		Return(llm.Reply{Text: `{"walls": 20}`}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, []llm.Turn{
		{Role: llm.RoleUser, Text: "the prompt"},
		{Role: llm.RoleModel, Text: "Walls: 20 litres."},
	}).Return(session, nil).Once()
	svc.Chat = chat

	refined, err := svc.Refine(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"walls": 20}`, string(refined.JSON))

	again, err := svc.Refine(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, refined.JSON, again.JSON)

	chat.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestRefineRequiresCompletedAnswer(t *testing.T) {
	svc, _ := newService(&mockChat{}, nil, 0)

	rec, err := svc.Store.CreateEstimate(context.Background(), storage.Estimate{Prompt: "p", Status: storage.StatusFailed})
	require.NoError(t, err)

	_, err = svc.Refine(context.Background(), rec.ID)
	assert.Error(t, err)

	_, err = svc.Refine(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPreview(t *testing.T) {
	svc, _ := newService(&mockChat{}, nil, 0)

	want, err := prompts.Build(prompts.DefaultFormState())
	require.NoError(t, err)

	got, err := svc.Preview(prompts.DefaultFormState(), "", false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunStoresAgainWhenEvictedDuringModelCall(t *testing.T) {
	svc, _ := newService(nil, nil, 0)

	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// Enough traffic to push the in-flight record out of the memory store.
			for i := 0; i < 50; i++ {
				_, err := svc.Store.CreateEstimate(context.Background(), storage.Estimate{Prompt: "other"})
				require.NoError(t, err)
			}
		}).
		Return(llm.Reply{Text: "About 20 litres."}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil)
	svc.Chat = chat

	rec, err := svc.Run(context.Background(), Request{Form: prompts.DefaultFormState(), Image: testImage()})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, "About 20 litres.", rec.Answer)
	assert.Equal(t, storage.StatusDone, rec.Status)

	stored, err := svc.Store.GetEstimate(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "About 20 litres.", stored.Answer)
}

type failingDoneStore struct {
	*storage.InMemoryStore
}

func (s failingDoneStore) UpdateEstimate(ctx context.Context, e storage.Estimate) (storage.Estimate, error) {
	if e.Status == storage.StatusDone {
		return storage.Estimate{}, errors.New("database unavailable")
	}
	return s.InMemoryStore.UpdateEstimate(ctx, e)
}

func TestRunKeepsAnswerWhenSaveFails(t *testing.T) {
	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(llm.Reply{Text: "About 20 litres."}, nil).Once()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil)

	svc := New(failingDoneStore{storage.NewInMemoryStore()}, nil, chat, nil, 0, zerolog.Nop())

	rec, err := svc.Run(context.Background(), Request{Form: prompts.DefaultFormState(), Image: testImage()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "About 20 litres.", rec.Answer)
}

func TestRunCacheIsScopedToAPIKey(t *testing.T) {
	session := &mockSession{}
	session.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(llm.Reply{Text: "About 20 litres."}, nil).Twice()

	chat := &mockChat{}
	chat.On("StartChat", mock.Anything, mock.Anything).Return(session, nil).Twice()

	svc, _ := newService(chat, nil, time.Minute)
	req := Request{Form: prompts.DefaultFormState(), Image: testImage()}

	first, err := svc.Run(llm.WithAPIKey(context.Background(), "key-one"), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Run(llm.WithAPIKey(context.Background(), "key-two"), req)
	require.NoError(t, err)
	assert.False(t, second.Cached)

	third, err := svc.Run(llm.WithAPIKey(context.Background(), "key-one"), req)
	require.NoError(t, err)
	assert.True(t, third.Cached)

	chat.AssertExpectations(t)
	session.AssertExpectations(t)
}
