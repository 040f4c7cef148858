// Package client holds the chat-side turn machinery: input batching with a
// trailing debounce, paced fragment delivery, and the HTTP turn client.
package client

import "time"

// Clock is the time source of the batcher and sequencer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	After(d time.Duration) <-chan time.Time
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by package time.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
