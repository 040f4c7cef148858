package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/persona"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

type fakeBackend struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	system string
	turns  []prompt.Turn
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Generate(_ context.Context, system string, turns []prompt.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system = system
	f.turns = append([]prompt.Turn(nil), turns...)
	return f.reply, f.err
}

// countingStore wraps a MemoryStore and counts every access.
type countingStore struct {
	*conversation.MemoryStore
	mu        sync.Mutex
	accesses  int
	appendErr error
}

func (c *countingStore) touch() {
	c.mu.Lock()
	c.accesses++
	c.mu.Unlock()
}

func (c *countingStore) Get(ctx context.Context, key conversation.Key) ([]models.Message, error) {
	c.touch()
	return c.MemoryStore.Get(ctx, key)
}

func (c *countingStore) Append(ctx context.Context, key conversation.Key, messages []models.Message) error {
	c.touch()
	if c.appendErr != nil {
		return c.appendErr
	}
	return c.MemoryStore.Append(ctx, key, messages)
}

type fixture struct {
	processor *Processor
	ledger    *quota.MemoryLedger
	store     *countingStore
	backend   *fakeBackend
	users     *users.MemoryRepository
	metrics   *metrics.Metrics
	now       time.Time
	identity  *auth.Identity
}

const testDate = "2026-10-18"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ledger:   quota.NewMemoryLedger(),
		store:    &countingStore{MemoryStore: conversation.NewMemoryStore()},
		backend:  &fakeBackend{reply: "안녕ㅋㅋ|||뭐해?"},
		users:    users.NewMemoryRepository(),
		metrics:  metrics.New(),
		now:      time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC),
		identity: &auth.Identity{UserID: "u1", Username: "alice"},
	}

	require.NoError(t, f.users.Create(context.Background(), &models.User{ID: "u1", Username: "alice", Nickname: "앨리스"}))

	quotaSvc := quota.NewService(f.ledger, 15, time.UTC)
	quotaSvc.SetClock(func() time.Time { return f.now })

	assembler := prompt.NewAssembler(prompt.DefaultHistoryLimit)
	assembler.Now = func() time.Time { return f.now }

	processor, err := NewProcessor(Dependencies{
		Quota:         quotaSvc,
		Conversations: f.store,
		Personas:      persona.New(models.Persona{ID: "yuna", Name: "유나", Birth: "2001-11-20"}),
		Users:         f.users,
		Assembler:     assembler,
		Backend:       f.backend,
		Metrics:       f.metrics,
	})
	require.NoError(t, err)
	processor.SetClock(func() time.Time { return f.now })
	f.processor = processor
	return f
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	rec, _ := f.ledger.Record("u1", testDate)
	return rec.MessageCount
}

func (f *fixture) history(t *testing.T) []models.Message {
	t.Helper()
	messages, err := f.store.MemoryStore.Get(context.Background(), conversation.Key{UserID: "u1", PersonaID: "yuna"})
	require.NoError(t, err)
	return messages
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: " 안녕 뭐해 ", BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, []string{"안녕ㅋㅋ", "뭐해?"}, result.Fragments)
	assert.Equal(t, quota.Remaining(14), result.Remaining)
	assert.Equal(t, 1, f.count(t))

	history := f.history(t)
	require.Len(t, history, 3)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "안녕 뭐해", Timestamp: f.now}, history[0])
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, f.now.Add(100*time.Millisecond), history[1].Timestamp)
	assert.Equal(t, f.now.Add(200*time.Millisecond), history[2].Timestamp)

	require.NotEmpty(t, f.backend.turns)
	last := f.backend.turns[len(f.backend.turns)-1]
	assert.Equal(t, prompt.FrameUserContent("안녕 뭐해"), last.Content)
	assert.Contains(t, f.backend.system, "- 이름: 앨리스")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues(metrics.StatusOK)))
}

func TestProcessChargesOncePerTurnRegardlessOfFragments(t *testing.T) {
	f := newFixture(t)

	f.backend.reply = "응"
	_, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "a"})
	require.NoError(t, err)

	f.backend.reply = "1|||2|||3|||4"
	f.now = f.now.Add(time.Minute)
	result, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "b"})
	require.NoError(t, err)

	assert.Len(t, result.Fragments, 4)
	assert.Equal(t, 2, f.count(t))
	assert.Equal(t, quota.Remaining(13), result.Remaining)
	assert.Len(t, f.history(t), 7)
}

func TestProcessGenerationFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.New("upstream 500")

	_, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "안녕"})
	require.Error(t, err)
	assert.Equal(t, KindGeneration, KindOf(err))
	assert.Equal(t, "INTERNAL", KindOf(err).Code())

	assert.Equal(t, 0, f.count(t))
	assert.Empty(t, f.history(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues(metrics.StatusError)))
}

func TestProcessEmptyGenerationIsFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.reply = "  \n "

	_, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "안녕"})
	assert.ErrorIs(t, err, ErrEmptyGeneration)
	assert.Equal(t, KindGeneration, KindOf(err))
	assert.Equal(t, 0, f.count(t))
	assert.Empty(t, f.history(t))
}

func TestProcessLimitExceededSkipsStoreAndBackend(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 15; i++ {
		_, err := f.ledger.Increment(context.Background(), "u1", testDate)
		require.NoError(t, err)
	}

	result, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "안녕"})
	require.NoError(t, err)
	assert.Equal(t, StatusLimitExceeded, result.Status)
	assert.Equal(t, quota.Remaining(0), result.Remaining)
	assert.Empty(t, result.Fragments)

	assert.Equal(t, 0, f.backend.calls)
	assert.Equal(t, 0, f.store.accesses)
	assert.Equal(t, 15, f.count(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuotaRejections))
}

func TestProcessPrivilegedUserIsUnlimited(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.SetSuper("u1", true))
	for i := 0; i < 20; i++ {
		_, err := f.ledger.Increment(context.Background(), "u1", testDate)
		require.NoError(t, err)
	}

	result, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "안녕"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.True(t, result.Remaining.IsUnlimited())
}

func TestProcessErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, Request{PersonaID: "yuna", Text: "hi"})
	assert.Equal(t, KindUnauthenticated, KindOf(err))
	assert.Equal(t, "UNAUTHORIZED", KindOf(err).Code())

	_, err = f.processor.Process(ctx, Request{Identity: &auth.Identity{UserID: "deleted"}, PersonaID: "yuna", Text: "hi"})
	assert.Equal(t, KindUnauthenticated, KindOf(err))

	_, err = f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "yuna", Text: "   "})
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, ErrPersonaNotFound)
	assert.Equal(t, "NOT_FOUND", KindOf(err).Code())

	assert.Equal(t, 0, f.count(t))
	assert.Equal(t, 0, f.backend.calls)
}

func TestProcessAppendFailureDoesNotCharge(t *testing.T) {
	f := newFixture(t)
	f.store.appendErr = errors.New("write conflict")

	_, err := f.processor.Process(context.Background(), Request{Identity: f.identity, PersonaID: "yuna", Text: "hi"})
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, 0, f.count(t))
}

func TestProcessTimestampsStayMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.reply = "a|||b|||c"
	_, err := f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "yuna", Text: "one"})
	require.NoError(t, err)

	// Second turn arrives before the previous synthetic stamps.
	f.now = f.now.Add(50 * time.Millisecond)
	_, err = f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "yuna", Text: "two"})
	require.NoError(t, err)

	history := f.history(t)
	require.Len(t, history, 8)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp), "message %d not after %d", i, i-1)
	}
}

func TestProcessSendsOnlyRecentHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := conversation.Key{UserID: "u1", PersonaID: "yuna"}

	seeded := make([]models.Message, 0, 30)
	for i := 0; i < 30; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		seeded = append(seeded, models.Message{
			Role:      role,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: f.now.Add(time.Duration(i-60) * time.Second),
		})
	}
	require.NoError(t, f.store.MemoryStore.Append(ctx, key, seeded))

	_, err := f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "yuna", Text: "last"})
	require.NoError(t, err)

	turns := f.backend.turns
	require.Len(t, turns, prompt.DefaultHistoryLimit)
	assert.Equal(t, prompt.Turn{Role: models.RoleAssistant, Content: "m11"}, turns[0])
	assert.Equal(t, prompt.Turn{Role: models.RoleAssistant, Content: "m29"}, turns[len(turns)-2])
	assert.Equal(t, prompt.Turn{Role: models.RoleUser, Content: prompt.FrameUserContent("last")}, turns[len(turns)-1])
	assert.Len(t, f.history(t), 33)
}

func TestResetLeavesQuotaUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, Request{Identity: f.identity, PersonaID: "yuna", Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.store.Reset(ctx, conversation.Key{UserID: "u1", PersonaID: "yuna"}))
	assert.Empty(t, f.history(t))
	assert.Equal(t, 1, f.count(t))
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	_, err := NewProcessor(Dependencies{})
	assert.Error(t, err)
}
