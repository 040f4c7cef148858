package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// DefaultQuietPeriod is the trailing debounce window.
const DefaultQuietPeriod = 2000 * time.Millisecond

// Unlimited is the remaining count of privileged accounts.
const Unlimited = -1

var (
	ErrLimitReached = errors.New("client: daily message limit reached")
	ErrEmptyInput   = errors.New("client: input is empty")
	ErrClosed       = errors.New("client: batcher is closed")
)

// View is the conversation surface the batcher drives. Implementations must
// be safe for concurrent use and must not call back into the Batcher.
type View interface {
	DeliveryView
	// RemoveLast drops the n most recent messages.
	RemoveLast(n int)
	ShowLimit()
}

// TurnResponse is the server's answer to one batched turn.
type TurnResponse struct {
	Replies       []string
	Remaining     int
	LimitExceeded bool
}

// Sender submits one batched turn.
type Sender interface {
	SendTurn(ctx context.Context, personaID, text string, count int) (*TurnResponse, error)
}

type Options struct {
	PersonaID string
	UserID    string
	// Remaining is the quota left when the view opens; Unlimited disables the check.
	Remaining   int
	QuietPeriod time.Duration
	Clock       Clock
	Sequencer   *Sequencer
	Tracker     *analytics.Tracker
	Logger      *zap.SugaredLogger
}

// Batcher collapses rapid successive inputs into one turn. Each input
// restarts the quiet window; when it elapses, or on Blur, the queue is
// joined with single spaces and sent as one turn. Only one turn is in
// flight at a time, and a turn stays in flight until its fragments have
// been delivered.
type Batcher struct {
	personaID string
	userID    string
	sender    Sender
	view      View
	sequencer *Sequencer
	clock     Clock
	quiet     time.Duration
	tracker   *analytics.Tracker
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   []models.Message
	timer     Timer
	timerGen  uint64
	inFlight  bool
	closed    bool
	remaining int
}

func NewBatcher(sender Sender, view View, opts Options) *Batcher {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	quiet := opts.QuietPeriod
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	sequencer := opts.Sequencer
	if sequencer == nil {
		sequencer = NewSequencer(clock)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		personaID: opts.PersonaID,
		userID:    opts.UserID,
		sender:    sender,
		view:      view,
		sequencer: sequencer,
		clock:     clock,
		quiet:     quiet,
		tracker:   opts.Tracker,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		remaining: opts.Remaining,
	}
}

// Submit optimistically shows text and queues it. When the daily quota is
// known to be spent it returns ErrLimitReached and shows the limit prompt
// without queueing anything.
func (b *Batcher) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.remaining != Unlimited && b.remaining <= 0 {
		b.mu.Unlock()
		b.showLimit()
		return ErrLimitReached
	}

	msg := models.Message{Role: models.RoleUser, Content: text, Timestamp: b.clock.Now().UTC()}
	b.view.AppendMessage(msg)
	b.pending = append(b.pending, msg)
	b.armLocked()
	b.mu.Unlock()
	return nil
}

// Blur flushes the queue immediately, cancelling the quiet window. It does
// nothing while a turn is in flight.
func (b *Batcher) Blur() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.inFlight || len(b.pending) == 0 {
		return
	}
	b.stopTimerLocked()
	b.flushLocked()
}

// Close cancels the quiet window and any fragment delivery. Later inputs
// and timer firings are ignored. A request already sent is not aborted.
func (b *Batcher) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.stopTimerLocked()
		b.pending = nil
	}
	b.mu.Unlock()
	b.cancel()
}

// Wait blocks until the in-flight turn, if any, has finished.
func (b *Batcher) Wait() {
	b.wg.Wait()
}

func (b *Batcher) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Pending reports how many inputs are queued for the next turn.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

func (b *Batcher) armLocked() {
	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = b.clock.AfterFunc(b.quiet, func() { b.onQuiet(gen) })
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}

func (b *Batcher) onQuiet(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.timerGen || b.closed {
		return
	}
	b.timer = nil
	// The guard is checked before the queue is touched; the flight re-arms
	// the window for anything left here when it ends.
	if b.inFlight || len(b.pending) == 0 {
		return
	}
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	batch := b.pending
	b.pending = nil
	b.inFlight = true

	parts := make([]string, len(batch))
	for i, msg := range batch {
		parts[i] = msg.Content
	}

	b.wg.Add(1)
	go b.fly(strings.Join(parts, " "), len(batch))
}

func (b *Batcher) fly(text string, count int) {
	defer b.wg.Done()
	defer b.finishFlight()

	b.tracker.Track(b.userID, analytics.EventMessageSent, map[string]any{
		"persona_id":    b.personaID,
		"message_count": count,
	})

	resp, err := b.sender.SendTurn(context.Background(), b.personaID, text, count)
	if err != nil && !errors.Is(err, ErrLimitReached) {
		b.logger.Warnw("turn failed", "persona_id", b.personaID, "count", count, "error", err)
		b.rollback(count)
		return
	}

	// A refused batch was never stored server-side, so its optimistic
	// messages come off the view like any other unsent batch.
	if errors.Is(err, ErrLimitReached) || resp.LimitExceeded {
		b.rollback(count)
		b.mu.Lock()
		b.remaining = 0
		b.mu.Unlock()
		b.showLimit()
		return
	}

	b.mu.Lock()
	b.remaining = resp.Remaining
	b.mu.Unlock()

	if len(resp.Replies) == 0 {
		return
	}
	if err := b.sequencer.Deliver(b.ctx, resp.Replies, b.view); err != nil {
		b.logger.Debugw("delivery interrupted", "persona_id", b.personaID, "error", err)
		return
	}
	b.tracker.Track(b.userID, analytics.EventMessageReceived, map[string]any{
		"persona_id":  b.personaID,
		"reply_count": len(resp.Replies),
	})
}

// rollback removes the count optimistic messages of the failed batch. Inputs
// queued behind it are lifted off the view and put back unchanged.
func (b *Batcher) rollback(count int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	queued := len(b.pending)
	b.view.RemoveLast(count + queued)
	for _, msg := range b.pending {
		b.view.AppendMessage(msg)
	}
}

func (b *Batcher) finishFlight() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight = false
	if !b.closed && len(b.pending) > 0 {
		b.armLocked()
	}
}

func (b *Batcher) showLimit() {
	b.view.ShowLimit()
	b.tracker.Track(b.userID, analytics.EventLimitReached, map[string]any{"persona_id": b.personaID})
	b.tracker.Track(b.userID, analytics.EventPremiumModalView, map[string]any{"persona_id": b.personaID})
}
