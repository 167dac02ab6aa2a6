package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"kvmbridge/internal/infrastructure/signal"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ViewerGateway bridges viewer websockets to the signaling relay. Each
// websocket connection owns one relay session; closing the socket tears
// the session down.
type ViewerGateway struct {
	relay  *signal.Relay
	logger *zap.SugaredLogger

	writeTimeout time.Duration
}

// ViewerMessage is the viewer-facing wire format, both directions.
type ViewerMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Code      string                   `json:"code,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

func NewViewerGateway(relay *signal.Relay, logger *zap.SugaredLogger) *ViewerGateway {
	return &ViewerGateway{
		relay:        relay,
		logger:       logger,
		writeTimeout: 10 * time.Second,
	}
}

func (g *ViewerGateway) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/stream/signal", g.HandleViewer)
}

func (g *ViewerGateway) HandleViewer(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	g.logger.Infow("viewer connected", "session_id", sessionID, "remote", c.ClientIP())

	var writeMu sync.Mutex
	send := func(s signal.Signal) {
		msg := toViewerMessage(s)

		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			g.logger.Debugw("viewer write failed", "session_id", sessionID, "error", err)
		}
	}

	defer g.relay.CloseSession(sessionID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warnw("viewer read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		var msg ViewerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(signal.SignalError{Code: "malformed_message", Message: "message is not valid JSON"})
			continue
		}

		g.dispatch(c, sessionID, msg, send)
	}
}

func (g *ViewerGateway) dispatch(c *gin.Context, sessionID string, msg ViewerMessage, send signal.SendMessage) {
	switch msg.Type {
	case "offer":
		if msg.SDP == "" {
			send(signal.SignalError{Code: "malformed_message", Message: "offer requires sdp"})
			return
		}
		if err := g.relay.HandleOffer(c.Request.Context(), msg.SDP, sessionID, send); err != nil {
			g.logger.Warnw("offer failed", "session_id", sessionID, "error", err)
			send(signal.SignalError{Code: "webrtc_signal_failed", Message: err.Error()})
		}

	case "candidate":
		if msg.Candidate == nil {
			send(signal.SignalError{Code: "malformed_message", Message: "candidate payload missing"})
			return
		}
		if err := g.relay.HandleCandidate(c.Request.Context(), sessionID, *msg.Candidate); err != nil {
			g.logger.Warnw("candidate relay failed", "session_id", sessionID, "error", err)
			send(signal.SignalError{Code: "webrtc_signal_failed", Message: err.Error()})
		}

	case "close":
		g.relay.CloseSession(sessionID)

	default:
		g.logger.Debugw("unknown viewer message type", "session_id", sessionID, "type", msg.Type)
	}
}

func toViewerMessage(s signal.Signal) ViewerMessage {
	switch v := s.(type) {
	case signal.Answer:
		return ViewerMessage{Type: "answer", SDP: v.SDP}
	case signal.Candidate:
		c := v.Candidate
		return ViewerMessage{Type: "candidate", Candidate: &c}
	case signal.SignalError:
		return ViewerMessage{Type: "error", Code: v.Code, Message: v.Message}
	default:
		return ViewerMessage{Type: "error", Code: "internal", Message: "unknown signal"}
	}
}
