package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	ch    chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 14, 21, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t.ch
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, other := range t.clock.timers {
		if other == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward and fires every due timer outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(now) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	c.timers = kept
	c.mu.Unlock()

	for _, t := range due {
		if t.f != nil {
			t.f()
		} else {
			t.ch <- now
		}
	}
}

func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func waitForTimers(t *testing.T, clock *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return clock.Active() == n }, time.Second, time.Millisecond)
}

type fakeView struct {
	mu       sync.Mutex
	messages []models.Message
	typing   []bool
	limits   int
}

func (v *fakeView) AppendMessage(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

func (v *fakeView) SetTyping(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.typing = append(v.typing, on)
}

func (v *fakeView) RemoveLast(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n > len(v.messages) {
		n = len(v.messages)
	}
	v.messages = v.messages[:len(v.messages)-n]
}

func (v *fakeView) ShowLimit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limits++
}

func (v *fakeView) Contents() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.messages))
	for i, msg := range v.messages {
		out[i] = msg.Content
	}
	return out
}

func (v *fakeView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Message(nil), v.messages...)
}

func (v *fakeView) Typing() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.typing...)
}

func (v *fakeView) Limits() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.limits
}

type sentTurn struct {
	personaID string
	text      string
	count     int
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentTurn
	resp  *TurnResponse
	err   error
	// gate, when set, holds every call until it is closed or receives.
	gate chan struct{}
}

func (s *fakeSender) SendTurn(_ context.Context, personaID, text string, count int) (*TurnResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sentTurn{personaID: personaID, text: text, count: count})
	gate := s.gate
	resp, err := s.resp, s.err
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &TurnResponse{}, nil
	}
	copied := *resp
	return &copied, nil
}

func (s *fakeSender) Calls() []sentTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTurn(nil), s.calls...)
}

func (s *fakeSender) set(resp *TurnResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resp, s.err = resp, err
}

func historyMessage(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content}
}
