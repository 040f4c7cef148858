package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wuwenbin0122/wwb.chat/internal/client"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

// terminalView renders the conversation as appended lines. A terminal
// cannot take lines back, so withdrawn messages are announced instead.
type terminalView struct {
	mu   sync.Mutex
	out  io.Writer
	name string
}

func newTerminalView(out io.Writer, name string) *terminalView {
	return &terminalView{out: out, name: name}
}

func (v *terminalView) AppendMessage(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	speaker := "나"
	if msg.Role == models.RoleAssistant {
		speaker = v.name
	}
	stamp := msg.Timestamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	fmt.Fprintf(v.out, "[%s] %s: %s\n", stamp.Local().Format("15:04"), speaker, msg.Content)
}

func (v *terminalView) SetTyping(on bool) {
	if !on {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "  %s 입력 중...\n", v.name)
}

func (v *terminalView) RemoveLast(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "  (전송 실패: 메시지 %d개를 보내지 못했어요)\n", n)
}

func (v *terminalView) ShowLimit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, "  오늘 보낼 수 있는 메시지를 모두 사용했어요.")
	fmt.Fprintln(v.out, "  프리미엄 출시 소식을 받으려면 /premium 을 입력하세요.")
}

func (v *terminalView) Notice(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "  %s\n", text)
}

func (v *terminalView) Status(remaining int) {
	if remaining == client.Unlimited {
		v.Notice("남은 메시지: 무제한")
		return
	}
	v.Notice(fmt.Sprintf("오늘 남은 메시지: %d", remaining))
}
