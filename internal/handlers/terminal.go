package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
)

// terminalReadLimit is the largest WebSocket message accepted. Binary input
// above sshterminal.MaxInputMessageSize is dropped rather than closing the
// connection.
const terminalReadLimit = 1024 * 1024

type termControlMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
	Data string `json:"data"`
}

type termStatusMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error,omitempty"`
}

// TerminalWS attaches a WebSocket to a live session's shell.
//
// The scrollback is replayed first, then shell output follows as binary
// frames. Binary frames from the client are shell input; text frames carry
// JSON control messages ({type: "resize", cols, rows} or {type: "input",
// data}). When the session ends the client receives a text status frame and
// the socket is closed.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[session-mgr] failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(terminalReadLimit)

	ctx := r.Context()
	q := newFrameQueue()

	var unsubscribe func()
	q.seed(websocket.MessageBinary, func() []byte {
		var snapshot []byte
		snapshot, unsubscribe = s.SubscribeWithScrollback(func(ev sshterminal.Event) {
			if ev.Kind == sshterminal.EventData {
				q.push(websocket.MessageBinary, ev.Data)
				return
			}
			if ev.Terminal() {
				status, _ := json.Marshal(termStatusMsg{Type: string(ev.Kind), SessionID: ev.SessionID, Error: ev.Reason})
				q.push(websocket.MessageText, status)
				q.close()
			}
		})
		return snapshot
	})
	defer unsubscribe()
	log.Printf("[session-mgr] terminal attached: session=%s", s.ID())

	go func() {
		// Covers a session that ended before the listener was registered.
		select {
		case <-s.Done():
			q.close()
		case <-ctx.Done():
		}
	}()
	go func() {
		q.pump(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}()

	limiter := sshterminal.NewInputLimiter()
read:
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break read
		}
		if !limiter.Allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if err := sshterminal.ValidateInput(data); err != nil {
				log.Printf("[session-mgr] terminal input dropped: session=%s size=%d", s.ID(), len(data))
				continue
			}
			if err := s.Write(data); err != nil {
				break read
			}
			continue
		}

		var msg termControlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "resize":
			if err := sshterminal.ValidateDimensions(msg.Cols, msg.Rows); err != nil {
				log.Printf("[session-mgr] terminal resize rejected: session=%s: %v", s.ID(), err)
				continue
			}
			if err := s.Resize(msg.Cols, msg.Rows); err != nil {
				log.Printf("[session-mgr] terminal resize failed: session=%s %dx%d: %v", s.ID(), msg.Cols, msg.Rows, err)
			}
		case "input":
			if sshterminal.ValidateInput([]byte(msg.Data)) != nil {
				continue
			}
			if err := s.Write([]byte(msg.Data)); err != nil {
				break read
			}
		}
	}
	log.Printf("[session-mgr] terminal detached: session=%s", s.ID())
}
