package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/client"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

func TestTerminalViewRendersMessages(t *testing.T) {
	var out bytes.Buffer
	view := newTerminalView(&out, "유나")

	stamp := time.Date(2026, time.May, 1, 12, 30, 0, 0, time.UTC)
	view.AppendMessage(models.Message{Role: models.RoleUser, Content: "안녕", Timestamp: stamp})
	view.SetTyping(true)
	view.AppendMessage(models.Message{Role: models.RoleAssistant, Content: "반가워", Timestamp: stamp})
	view.SetTyping(false)
	view.RemoveLast(2)
	view.Status(client.Unlimited)

	got := out.String()
	for _, want := range []string{"나: 안녕", "유나 입력 중...", "유나: 반가워", "메시지 2개", "무제한"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, got)
		}
	}
	if strings.Count(got, "입력 중") != 1 {
		t.Fatalf("typing indicator should print once, got:\n%s", got)
	}
}

func TestTerminalViewShowLimit(t *testing.T) {
	var out bytes.Buffer
	newTerminalView(&out, "유나").ShowLimit()
	if !strings.Contains(out.String(), "/premium") {
		t.Fatalf("expected premium hint, got %q", out.String())
	}
}
