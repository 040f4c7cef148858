// Package turn runs one chat turn end to end: quota, history, prompt,
// generation, splitting and persistence.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/generation"
	"github.com/wuwenbin0122/wwb.chat/internal/metrics"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/persona"
	"github.com/wuwenbin0122/wwb.chat/internal/prompt"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/reply"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
)

// FragmentSpacing separates the synthetic timestamps of one turn's messages.
const FragmentSpacing = 100 * time.Millisecond

type Status string

const (
	StatusOK            Status = "ok"
	StatusLimitExceeded Status = "limit_exceeded"
)

// Request is one debounced batch of user input.
type Request struct {
	Identity  *auth.Identity
	PersonaID string
	Text      string
	// BatchSize is how many client inputs were joined into Text.
	BatchSize int
}

type Result struct {
	Status    Status
	Fragments []string
	Remaining quota.Remaining
}

type PersonaSource interface {
	Get(id string) (models.Persona, error)
}

type UserSource interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type Dependencies struct {
	Quota         *quota.Service
	Conversations conversation.Store
	Personas      PersonaSource
	Users         UserSource
	Assembler     *prompt.Assembler
	Backend       generation.Backend
	Tracker       *analytics.Tracker
	Metrics       *metrics.Metrics
	Logger        *zap.SugaredLogger
}

type Processor struct {
	quota         *quota.Service
	conversations conversation.Store
	personas      PersonaSource
	users         UserSource
	assembler     *prompt.Assembler
	backend       generation.Backend
	tracker       *analytics.Tracker
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger
	now           func() time.Time
}

func NewProcessor(deps Dependencies) (*Processor, error) {
	switch {
	case deps.Quota == nil:
		return nil, errors.New("turn: quota service is required")
	case deps.Conversations == nil:
		return nil, errors.New("turn: conversation store is required")
	case deps.Personas == nil:
		return nil, errors.New("turn: persona source is required")
	case deps.Users == nil:
		return nil, errors.New("turn: user source is required")
	case deps.Backend == nil:
		return nil, errors.New("turn: generation backend is required")
	}

	assembler := deps.Assembler
	if assembler == nil {
		assembler = prompt.NewAssembler(prompt.DefaultHistoryLimit)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Processor{
		quota:         deps.Quota,
		conversations: deps.Conversations,
		personas:      deps.Personas,
		users:         deps.Users,
		assembler:     assembler,
		backend:       deps.Backend,
		tracker:       deps.Tracker,
		metrics:       deps.Metrics,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// SetClock overrides the time source for message timestamps.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Process runs one turn. A reached daily limit is a normal result with
// StatusLimitExceeded; every failure is an *Error.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	result, err := p.process(ctx, req)
	switch {
	case err != nil:
		p.metrics.ObserveTurn(metrics.StatusError)
	case result.Status == StatusLimitExceeded:
		p.metrics.ObserveTurn(metrics.StatusLimitExceeded)
	default:
		p.metrics.ObserveTurn(metrics.StatusOK)
	}
	return result, err
}

func (p *Processor) process(ctx context.Context, req Request) (*Result, error) {
	if req.Identity == nil || req.Identity.UserID == "" {
		return nil, newError(KindUnauthenticated, ErrUnauthenticated)
	}
	userID := req.Identity.UserID

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, newError(KindInvalidInput, ErrEmptyMessage)
	}

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, newError(KindUnauthenticated, ErrUnauthenticated)
		}
		return nil, newError(KindInternal, fmt.Errorf("load user: %w", err))
	}

	p.tracker.Track(userID, analytics.EventMessageSent, map[string]any{
		"persona_id": req.PersonaID,
		"batch_size": req.BatchSize,
	})

	reservation, err := p.quota.CheckAndReserve(ctx, quota.Account{UserID: userID, Privileged: user.IsSuper}, p.quota.Today())
	if err != nil {
		return nil, newError(KindInternal, err)
	}
	if !reservation.Allowed {
		p.metrics.QuotaRejected()
		p.tracker.Track(userID, analytics.EventLimitReached, map[string]any{
			"persona_id":    req.PersonaID,
			"current_count": reservation.CurrentCount,
		})
		return &Result{Status: StatusLimitExceeded, Fragments: []string{}, Remaining: 0}, nil
	}

	character, err := p.personas.Get(req.PersonaID)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			return nil, newError(KindNotFound, ErrPersonaNotFound)
		}
		return nil, newError(KindInternal, err)
	}

	key := conversation.Key{UserID: userID, PersonaID: character.ID}
	history, err := p.conversations.Get(ctx, key)
	if err != nil {
		return nil, newError(KindPersistence, fmt.Errorf("load history: %w", err))
	}

	base := p.baseTimestamp(history)
	userMessage := models.Message{Role: models.RoleUser, Content: text, Timestamp: base}

	assembled := p.assembler.Build(character, user.Profile, user.Nickname, append(history, userMessage))

	started := time.Now()
	raw, err := p.backend.Generate(ctx, assembled.System, assembled.Turns)
	p.metrics.ObserveGeneration(p.backend.Name(), time.Since(started))
	if err != nil {
		p.logger.Warnw("generation failed", "user_id", userID, "persona_id", character.ID, "error", err)
		return nil, newError(KindGeneration, err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, newError(KindGeneration, ErrEmptyGeneration)
	}

	fragments := reply.Split(raw)
	p.metrics.ObserveFragments(len(fragments))

	messages := make([]models.Message, 0, 1+len(fragments))
	messages = append(messages, userMessage)
	for i, fragment := range fragments {
		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   fragment,
			Timestamp: base.Add(time.Duration(i+1) * FragmentSpacing),
		})
	}

	if err := p.conversations.Append(ctx, key, messages); err != nil {
		return nil, newError(KindPersistence, fmt.Errorf("append messages: %w", err))
	}

	remaining, err := reservation.Commit(ctx)
	if err != nil {
		return nil, newError(KindPersistence, err)
	}

	p.tracker.Track(userID, analytics.EventMessageReceived, map[string]any{
		"persona_id": character.ID,
		"fragments":  len(fragments),
		"remaining":  int(remaining),
	})
	p.logger.Debugw("turn completed", "user_id", userID, "persona_id", character.ID,
		"fragments", len(fragments), "remaining", int(remaining))

	return &Result{Status: StatusOK, Fragments: fragments, Remaining: remaining}, nil
}

// baseTimestamp keeps a new turn strictly after everything already stored,
// including synthetic fragment stamps that may lie slightly in the future.
func (p *Processor) baseTimestamp(history []models.Message) time.Time {
	base := p.now().UTC()
	if len(history) == 0 {
		return base
	}
	last := history[len(history)-1].Timestamp
	if !last.Before(base) {
		base = last.Add(time.Millisecond)
	}
	return base
}
