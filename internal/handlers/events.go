package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
)

// eventMsg is one event frame. Data is raw shell output, base64 encoded by
// encoding/json, so chunks that split a multi-byte character survive intact.
type eventMsg struct {
	Type      sshterminal.EventKind `json:"type"`
	SessionID string                `json:"sessionId"`
	Data      []byte                `json:"data,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

func newEventMsg(ev sshterminal.Event) eventMsg {
	return eventMsg{
		Type:      ev.Kind,
		SessionID: ev.SessionID,
		Data:      ev.Data,
		Error:     ev.Reason,
		Timestamp: ev.Timestamp,
	}
}

// EventsWS streams manager events as JSON text frames. The first frame is
// {type: "subscribed"}; nothing emitted after it is missed. An optional
// session_id query parameter limits the stream to one session. Client
// messages are ignored.
func EventsWS(w http.ResponseWriter, r *http.Request) {
	m, ok := manager(w)
	if !ok {
		return
	}
	filter := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[bridge] failed to accept events websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	q := newFrameQueue()
	unsubscribe := m.Subscribe(func(ev sshterminal.Event) {
		if filter != "" && ev.SessionID != filter {
			return
		}
		msg, err := json.Marshal(newEventMsg(ev))
		if err != nil {
			return
		}
		q.push(websocket.MessageText, msg)
	})
	defer unsubscribe()

	q.seed(websocket.MessageText, func() []byte {
		b, _ := json.Marshal(map[string]string{"type": "subscribed", "sessionId": filter})
		return b
	})
	q.pump(ctx, conn)
	conn.Close(websocket.StatusNormalClosure, "")
}
