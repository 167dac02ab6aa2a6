package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	bridgeerrors "kvmbridge/pkg/errors"

	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds relay tunables.
type Config struct {
	LoginTimeout         time.Duration // bounds login and websocket connect
	HeartbeatInterval    time.Duration // ping interval on the device socket
	MaxPendingCandidates int           // cap per session id, overflow dropped
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		LoginTimeout:         15 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MaxPendingCandidates: 64,
	}
}

// Metrics receives relay lifecycle events; implementations must be cheap
// and non-blocking.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	CandidateDropped()
	SignalRelayed(event string)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()       {}
func (nopMetrics) SessionClosed()       {}
func (nopMetrics) CandidateDropped()    {}
func (nopMetrics) SignalRelayed(string) {}

// session owns the resources backing one viewer's signaling exchange: the
// HTTP client used for the login call, the device websocket, and the
// reader goroutine consuming it.
type session struct {
	httpClient *http.Client
	ws         *websocket.Conn

	writeMu  sync.Mutex
	closed   atomic.Bool
	stopPing chan struct{}
	pingOnce sync.Once

	readerDone chan struct{}
}

func (s *session) markClosed() {
	s.closed.Store(true)
	s.pingOnce.Do(func() { close(s.stopPing) })
}

// Relay bridges one browser-side WebRTC negotiation per session id onto the
// device's JSON-over-websocket signaling protocol. The session and
// pending-candidate maps are owned by the relay and mutated only under mu;
// the lock is never held across network I/O.
type Relay struct {
	cfg      Config
	connInfo ports.ConnectionInfoProvider
	auth     ports.StreamAuthenticator
	dialer   *websocket.Dialer
	logger   *zap.SugaredLogger
	metrics  Metrics

	mu       sync.Mutex
	started  bool
	sessions map[string]*session
	pending  map[string][]webrtc.ICECandidateInit
}

func NewRelay(cfg Config, connInfo ports.ConnectionInfoProvider, auth ports.StreamAuthenticator, metrics Metrics, logger *zap.SugaredLogger) *Relay {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Relay{
		cfg:      cfg,
		connInfo: connInfo,
		auth:     auth,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.LoginTimeout},
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*session),
		pending:  make(map[string][]webrtc.ICECandidateInit),
	}
}

// Start makes the relay accept sessions until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.Shutdown()
	}()
}

// streamURL derives the device's h264 signaling websocket URL from the API
// base URL.
func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream/h264"
	return u.String(), nil
}

// HandleOffer opens a signaling session for sessionID: authenticates
// against the device, connects the signaling websocket, forwards the SDP
// offer, then flushes candidates queued while the session was pending.
// Answer, remote candidates and errors are delivered through send.
func (r *Relay) HandleOffer(ctx context.Context, offerSDP, sessionID string, send SendMessage) error {
	info, ok := r.connInfo()
	if !ok {
		return domain.ErrConnectionInfoMissing
	}

	// Register an empty pending queue before any network I/O so candidates
	// arriving concurrently are never lost.
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return domain.ErrRelayNotReady
	}
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return domain.ErrSessionExists
	}
	if _, exists := r.pending[sessionID]; !exists {
		r.pending[sessionID] = nil
	}
	r.mu.Unlock()

	if err := r.establish(ctx, info, sessionID, offerSDP, send); err != nil {
		return bridgeerrors.WrapRelayEstablish(err, "unable to establish device signaling")
	}

	r.logger.Debugw("signaling session established", "session_id", sessionID)
	return nil
}

func (r *Relay) establish(ctx context.Context, info ports.ConnectionInfo, sessionID, offerSDP string, send SendMessage) error {
	wsURL, err := streamURL(info.BaseURL)
	if err != nil {
		r.dropPending(sessionID)
		return err
	}

	httpClient := &http.Client{Timeout: r.cfg.LoginTimeout}

	loginCtx, cancel := context.WithTimeout(ctx, r.cfg.LoginTimeout)
	token, err := r.auth.StreamToken(loginCtx, httpClient, info.BaseURL, info.Username, info.Password)
	cancel()
	if err != nil {
		r.dropPending(sessionID)
		httpClient.CloseIdleConnections()
		return err
	}

	header := http.Header{}
	header.Set("Cookie", "nano-kvm-token="+token)

	ws, resp, err := r.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		r.dropPending(sessionID)
		httpClient.CloseIdleConnections()
		return err
	}

	sess := &session{
		httpClient: httpClient,
		ws:         ws,
		stopPing:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()
	r.metrics.SessionOpened()

	go r.readLoop(sessionID, sess, send)
	go r.pingLoop(sess)

	// Offer first, queued candidates after, preserving arrival order.
	if err := r.sendEnvelope(sess, eventVideoOffer, offerPayload{Type: "offer", SDP: offerSDP}); err != nil {
		r.teardown(sessionID, false)
		return err
	}
	if err := r.flushPending(sessionID, sess); err != nil {
		r.teardown(sessionID, false)
		return err
	}
	return nil
}

// HandleCandidate forwards a viewer-originated ICE candidate, queueing it
// while no live session exists for sessionID. Overflow beyond the pending
// cap is dropped silently.
func (r *Relay) HandleCandidate(ctx context.Context, sessionID string, candidate webrtc.ICECandidateInit) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.closed.Load() {
		queue := r.pending[sessionID]
		if len(queue) < r.cfg.MaxPendingCandidates {
			r.pending[sessionID] = append(queue, candidate)
		} else {
			r.metrics.CandidateDropped()
			r.logger.Debugw("pending candidate queue full, dropping candidate", "session_id", sessionID)
		}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.sendCandidate(sess, candidate); err != nil {
		return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTransport, "unable to forward candidate to device", http.StatusBadGateway)
	}
	return nil
}

// CloseSession schedules teardown when the viewer unsubscribes.
func (r *Relay) CloseSession(sessionID string) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	go r.teardown(sessionID, false)
}

// Shutdown tears down every tracked session.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.started = false
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.teardown(id, false)
	}
}

// readLoop consumes device signaling messages until the socket closes.
func (r *Relay) readLoop(sessionID string, sess *session, send SendMessage) {
	defer close(sess.readerDone)
	defer r.teardown(sessionID, true)

	for {
		msgType, data, err := sess.ws.ReadMessage()
		if err != nil {
			// Teardown closed the socket under us: clean unsubscribe,
			// nothing to report.
			if sess.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			r.logger.Errorw("error reading device signaling", "session_id", sessionID, "error", err)
			send(SignalError{Code: "webrtc_signal_failed", Message: err.Error()})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		r.handleDeviceMessage(sessionID, data, send)
	}
}

// handleDeviceMessage decodes one envelope; malformed messages are logged
// and skipped, never fatal to the reader.
func (r *Relay) handleDeviceMessage(sessionID string, raw []byte, send SendMessage) {
	var env deviceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Debugw("invalid signaling message from device", "session_id", sessionID, "error", err)
		return
	}

	switch env.Event {
	case eventHeartbeat:
		return
	case eventVideoAnswer:
		var payload answerPayload
		if err := json.Unmarshal([]byte(env.Data), &payload); err != nil {
			r.logger.Debugw("invalid answer payload from device", "session_id", sessionID, "error", err)
			return
		}
		if payload.SDP == "" {
			return
		}
		r.metrics.SignalRelayed(eventVideoAnswer)
		send(Answer{SDP: payload.SDP})
	case eventVideoCandidate:
		var payload struct {
			Candidate        *string `json:"candidate"`
			SDPMid           *string `json:"sdpMid"`
			SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
			UsernameFragment *string `json:"usernameFragment"`
		}
		if err := json.Unmarshal([]byte(env.Data), &payload); err != nil || payload.Candidate == nil {
			r.logger.Debugw("invalid candidate payload from device", "session_id", sessionID, "data", env.Data)
			return
		}
		r.metrics.SignalRelayed(eventVideoCandidate)
		send(Candidate{Candidate: webrtc.ICECandidateInit{
			Candidate:        *payload.Candidate,
			SDPMid:           payload.SDPMid,
			SDPMLineIndex:    payload.SDPMLineIndex,
			UsernameFragment: payload.UsernameFragment,
		}})
	default:
		r.logger.Debugw("unhandled device signaling event", "session_id", sessionID, "event", env.Event)
	}
}

// pingLoop keeps the device socket alive between signaling messages.
func (r *Relay) pingLoop(sess *session) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stopPing:
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			err := sess.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// teardown releases the session's websocket, HTTP client and reader, and
// removes both map entries atomically. Idempotent: a second call finds no
// session and returns. byReader skips waiting on the reader so the reader's
// own teardown cannot deadlock on itself.
func (r *Relay) teardown(sessionID string, byReader bool) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	delete(r.pending, sessionID)
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.markClosed()
	_ = sess.ws.Close()

	if !byReader {
		<-sess.readerDone
	}

	sess.httpClient.CloseIdleConnections()
	r.metrics.SessionClosed()
	r.logger.Debugw("signaling session closed", "session_id", sessionID)
}

// flushPending sends candidates queued before the session became active,
// in original arrival order, then discards the queue.
func (r *Relay) flushPending(sessionID string, sess *session) error {
	r.mu.Lock()
	queued := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()

	for _, candidate := range queued {
		if err := r.sendCandidate(sess, candidate); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) dropPending(sessionID string) {
	r.mu.Lock()
	delete(r.pending, sessionID)
	r.mu.Unlock()
}

func (r *Relay) sendCandidate(sess *session, candidate webrtc.ICECandidateInit) error {
	return r.sendEnvelope(sess, eventVideoCandidate, candidatePayload{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

func (r *Relay) sendEnvelope(sess *session, event string, payload interface{}) error {
	inner, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.ws.WriteJSON(deviceEnvelope{Event: event, Data: string(inner)})
}

// PendingCount reports the queued candidate count for a session id.
func (r *Relay) PendingCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[sessionID])
}

// ActiveSessions reports the number of live signaling sessions.
func (r *Relay) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
