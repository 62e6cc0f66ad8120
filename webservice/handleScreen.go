package webservice

import (
	"encoding/json"
	"net/http"
	"time"

	"mirrorcore/input"
	"mirrorcore/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReplyBacklog = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// the API token is the access control
		return true
	},
}

// screenMessage is what the browser sends over the session socket.
type screenMessage struct {
	Type    string         `json:"type"`
	Event   *input.Event   `json:"event,omitempty"`
	Command *input.Command `json:"command,omitempty"`
	Size    *input.Size    `json:"size,omitempty"`
}

const (
	msgInput    = "input"
	msgCommand  = "command"
	msgResize   = "resize"
	msgKeyFrame = "keyframe"
	msgError    = "error"
)

// GET /api/sessions/:id/ws
// The socket carries input to the session and feedback back to the browser.
func (wm *WebMaster) handleScreenWS(c *gin.Context) {
	m, ok := wm.mirrorParam(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wm.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	log := wm.log.With().Str("session", m.Session.ID()).Str("remote", c.ClientIP()).Logger()
	log.Info().Msg("websocket connected")

	feed, cancel := m.Relay.Subscribe()
	replies := make(chan relay.Feedback, wsReplyBacklog)
	done := make(chan struct{})
	go wm.writeFeedback(conn, m, feed, replies, done, log)

	wm.listenScreenWS(conn, m, replies, log)
	cancel()
	close(done)
	conn.Close()
	log.Info().Msg("websocket closed")
}

func (wm *WebMaster) listenScreenWS(conn *websocket.Conn, m *Mirror, replies chan<- relay.Feedback, log zerolog.Logger) {
	reply := func(fb relay.Feedback) {
		select {
		case replies <- fb:
		default:
		}
	}
	for {
		mType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("websocket read")
			return
		}
		if mType != websocket.TextMessage {
			log.Debug().Int("type", mType).Msg("unsupported websocket message")
			continue
		}
		var msg screenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			reply(relay.Feedback{Type: msgError, Error: "invalid message"})
			continue
		}
		switch msg.Type {
		case msgInput:
			if msg.Event != nil {
				m.Session.HandleInput(*msg.Event)
			}
		case msgCommand:
			if msg.Command == nil {
				continue
			}
			if err := m.Session.Command(*msg.Command); err != nil {
				reply(relay.Feedback{Type: msgError, Error: err.Error()})
			}
		case msgResize:
			if msg.Size != nil {
				m.Relay.SetSurfaceSize(*msg.Size)
			}
		case msgKeyFrame:
			m.Session.RequestKeyFrame()
		default:
			reply(relay.Feedback{Type: msgError, Error: "unknown message type " + msg.Type})
		}
	}
}

// writeFeedback is the only writer of conn. It closes the socket once the
// session has ended.
func (wm *WebMaster) writeFeedback(conn *websocket.Conn, m *Mirror, feed <-chan relay.Feedback, replies <-chan relay.Feedback, done <-chan struct{}, log zerolog.Logger) {
	write := func(fb relay.Feedback) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(fb); err != nil {
			log.Debug().Err(err).Msg("websocket write")
			return false
		}
		return true
	}
	// a socket opened mid-stream still learns the device
	if meta, ok := m.Session.Meta(); ok {
		if !write(relay.Feedback{Type: relay.FeedbackStreaming, Meta: &meta}) {
			return
		}
	}
	for {
		select {
		case <-done:
			return
		case fb := <-replies:
			if !write(fb) {
				return
			}
		case fb, ok := <-feed:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(wsWriteTimeout))
				conn.Close()
				return
			}
			if !write(fb) {
				return
			}
		}
	}
}
