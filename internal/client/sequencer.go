package client

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

const (
	typingPerRune  = 50 * time.Millisecond
	typingMinDelay = 500 * time.Millisecond
	typingMaxDelay = 2000 * time.Millisecond
)

// TypingDelay is how long the persona appears to type fragment:
// 50ms per rune, clamped to [500ms, 2000ms].
func TypingDelay(fragment string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(fragment)) * typingPerRune
	if d < typingMinDelay {
		return typingMinDelay
	}
	if d > typingMaxDelay {
		return typingMaxDelay
	}
	return d
}

// DeliveryView receives paced assistant fragments.
type DeliveryView interface {
	AppendMessage(msg models.Message)
	SetTyping(on bool)
}

// Sequencer reveals reply fragments one by one with a typing pause before each.
type Sequencer struct {
	clock Clock
	delay func(fragment string) time.Duration
}

func NewSequencer(clock Clock) *Sequencer {
	if clock == nil {
		clock = RealClock()
	}
	return &Sequencer{clock: clock, delay: TypingDelay}
}

// WithDelay replaces the per-fragment delay function.
func (s *Sequencer) WithDelay(delay func(string) time.Duration) *Sequencer {
	copied := *s
	copied.delay = delay
	return &copied
}

// Deliver shows the typing indicator, appends each fragment after its delay
// in order, and clears the indicator when done or when ctx is cancelled.
// Fragments not yet shown at cancellation are dropped from the view only;
// they are already persisted server-side.
func (s *Sequencer) Deliver(ctx context.Context, fragments []string, view DeliveryView) error {
	if len(fragments) == 0 {
		return nil
	}

	view.SetTyping(true)
	defer view.SetTyping(false)

	for _, fragment := range fragments {
		if d := s.delay(fragment); d > 0 {
			select {
			case <-s.clock.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		view.AppendMessage(models.Message{
			Role:      models.RoleAssistant,
			Content:   fragment,
			Timestamp: s.clock.Now().UTC(),
		})
	}
	return nil
}
