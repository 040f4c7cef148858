package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

func TestTypingDelay(t *testing.T) {
	cases := []struct {
		fragment string
		want     time.Duration
	}{
		{"", 500 * time.Millisecond},
		{"hello", 500 * time.Millisecond},
		{strings.Repeat("a", 20), 1000 * time.Millisecond},
		{strings.Repeat("가", 20), 1000 * time.Millisecond},
		{strings.Repeat("a", 40), 2000 * time.Millisecond},
		{strings.Repeat("a", 60), 2000 * time.Millisecond},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TypingDelay(tc.fragment), "fragment of %d bytes", len(tc.fragment))
	}
}

func TestDeliverPacesFragmentsInOrder(t *testing.T) {
	clock := newFakeClock()
	view := &fakeView{}
	seq := NewSequencer(clock)
	long := strings.Repeat("a", 30)

	done := make(chan error, 1)
	go func() { done <- seq.Deliver(context.Background(), []string{"hi", long}, view) }()

	waitForTimers(t, clock, 1)
	assert.Equal(t, []bool{true}, view.Typing())

	clock.Advance(499 * time.Millisecond)
	assert.Empty(t, view.Contents())

	clock.Advance(time.Millisecond)
	waitForTimers(t, clock, 1)
	assert.Equal(t, []string{"hi"}, view.Contents())

	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, <-done)

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, long, msgs[1].Content)
	for _, msg := range msgs {
		assert.Equal(t, models.RoleAssistant, msg.Role)
	}
	assert.True(t, msgs[1].Timestamp.After(msgs[0].Timestamp))
	assert.Equal(t, []bool{true, false}, view.Typing())
}

func TestDeliverStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	view := &fakeView{}
	seq := NewSequencer(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Deliver(ctx, []string{"one", "two"}, view) }()

	waitForTimers(t, clock, 1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, view.Contents())
	assert.Equal(t, []bool{true, false}, view.Typing())
}

func TestDeliverNothing(t *testing.T) {
	view := &fakeView{}
	require.NoError(t, NewSequencer(newFakeClock()).Deliver(context.Background(), nil, view))
	assert.Empty(t, view.Typing())
}

func TestWithDelayLeavesOriginal(t *testing.T) {
	view := &fakeView{}
	base := NewSequencer(newFakeClock())
	instant := base.WithDelay(func(string) time.Duration { return 0 })

	require.NoError(t, instant.Deliver(context.Background(), []string{"a", "b"}, view))
	assert.Equal(t, []string{"a", "b"}, view.Contents())
	assert.Equal(t, 500*time.Millisecond, base.delay("a"))
}
