package api

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
	"github.com/wuwenbin0122/wwb.chat/internal/turn"
)

// WebSocket event types sent to the client.
const (
	eventTyping   = "typing"
	eventFragment = "fragment"
	eventDone     = "done"
	eventError    = "error"
)

type wsInbound struct {
	PersonaID    string `json:"personaId"`
	Message      string `json:"message"`
	MessageCount int    `json:"messageCount"`
}

type wsEvent struct {
	Type              string          `json:"type"`
	Typing            *bool           `json:"typing,omitempty"`
	Message           *models.Message `json:"message,omitempty"`
	RemainingMessages *int            `json:"remainingMessages,omitempty"`
	Error             string          `json:"error,omitempty"`
	Details           string          `json:"details,omitempty"`
}

// wsView adapts a connection to the delivery view of the sequencer. The
// first failed write cancels delivery.
type wsView struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (v *wsView) send(event wsEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.conn.WriteJSON(event); err != nil {
		v.cancel()
		return err
	}
	return nil
}

func (v *wsView) SetTyping(on bool) {
	_ = v.send(wsEvent{Type: eventTyping, Typing: &on})
}

func (v *wsView) AppendMessage(msg models.Message) {
	_ = v.send(wsEvent{Type: eventFragment, Message: &msg})
}

// handleChatWebsocket runs turns sent over a WebSocket and streams each
// reply back fragment by fragment with typing pauses.
func (h *Handler) handleChatWebsocket(c *gin.Context) {
	identity := identityFrom(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("chat websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := &wsView{conn: conn, cancel: cancel}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnw("chat websocket closed unexpectedly", "user_id", identity.UserID, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if in.MessageCount <= 0 {
			in.MessageCount = 1
		}

		result, err := h.processor.Process(ctx, turn.Request{
			Identity:  identity,
			PersonaID: in.PersonaID,
			Text:      in.Message,
			BatchSize: in.MessageCount,
		})
		if err != nil {
			kind := turn.KindOf(err)
			h.logger.Warnw("websocket turn failed", "user_id", identity.UserID, "kind", kind, "error", err)
			_ = view.send(wsEvent{Type: eventError, Error: kind.Code(), Details: err.Error()})
			continue
		}

		remaining := int(result.Remaining)
		if result.Status == turn.StatusLimitExceeded {
			_ = view.send(wsEvent{Type: eventError, Error: codeLimitExceeded, RemainingMessages: &remaining})
			continue
		}

		if err := h.sequencer.Deliver(ctx, result.Fragments, view); err != nil {
			return
		}
		if err := view.send(wsEvent{Type: eventDone, RemainingMessages: &remaining}); err != nil {
			return
		}
	}
}
