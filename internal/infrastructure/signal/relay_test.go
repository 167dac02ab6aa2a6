package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	"kvmbridge/internal/infrastructure/device"

	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeDevice emulates the KVM's login endpoint and h264 signaling socket.
type fakeDevice struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	logins    int
	conns     []*websocket.Conn
	received  []deviceEnvelope
	gotCookie string

	// answerSDP, when set, is sent back after the offer arrives.
	answerSDP string
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	fd := &fakeDevice{t: t}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.logins++
		fd.mu.Unlock()
		fmt.Fprint(w, `{"code":0,"msg":"","data":{"token":"stream-token"}}`)
	})
	mux.HandleFunc("/stream/h264", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(device.TokenCookie); err == nil {
			fd.mu.Lock()
			fd.gotCookie = cookie.Value
			fd.mu.Unlock()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fd.mu.Lock()
		fd.conns = append(fd.conns, conn)
		fd.mu.Unlock()

		for {
			var env deviceEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			fd.mu.Lock()
			fd.received = append(fd.received, env)
			answer := fd.answerSDP
			fd.mu.Unlock()

			if env.Event == eventVideoOffer && answer != "" {
				inner, _ := json.Marshal(answerPayload{SDP: answer})
				conn.WriteJSON(deviceEnvelope{Event: eventVideoAnswer, Data: string(inner)})
			}
		}
	})

	fd.srv = httptest.NewServer(mux)
	t.Cleanup(fd.close)
	return fd
}

func (fd *fakeDevice) close() {
	fd.mu.Lock()
	for _, conn := range fd.conns {
		conn.Close()
	}
	fd.conns = nil
	fd.mu.Unlock()
	fd.srv.Close()
}

func (fd *fakeDevice) messages() []deviceEnvelope {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	out := make([]deviceEnvelope, len(fd.received))
	copy(out, fd.received)
	return out
}

func (fd *fakeDevice) waitForMessages(n int) []deviceEnvelope {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := fd.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	fd.t.Fatalf("timed out waiting for %d device messages, got %d", n, len(fd.messages()))
	return nil
}

// signalSink collects messages the relay delivers to the viewer.
type signalSink struct {
	mu      sync.Mutex
	signals []Signal
}

func (s *signalSink) send(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
}

func (s *signalSink) all() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

func (s *signalSink) waitFor(t *testing.T, match func(Signal) bool) Signal {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, sig := range s.all() {
			if match(sig) {
				return sig
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for viewer signal")
	return nil
}

func newTestRelay(t *testing.T, fd *fakeDevice) *Relay {
	t.Helper()

	provider := func() (ports.ConnectionInfo, bool) {
		return ports.ConnectionInfo{BaseURL: fd.srv.URL, Username: "admin", Password: "admin"}, true
	}
	cfg := DefaultConfig()
	cfg.LoginTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 50 * time.Millisecond

	relay := NewRelay(cfg, provider, device.NewStreamAuthenticator(), nil, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	relay.Start(ctx)
	return relay
}

func TestHandleOfferDeliversAnswer(t *testing.T) {
	fd := newFakeDevice(t)
	fd.answerSDP = "v=0 answer"
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}

	msgs := fd.waitForMessages(1)
	if msgs[0].Event != eventVideoOffer {
		t.Errorf("first device message event = %q, want %q", msgs[0].Event, eventVideoOffer)
	}
	var offer offerPayload
	if err := json.Unmarshal([]byte(msgs[0].Data), &offer); err != nil {
		t.Fatalf("offer data is not nested JSON: %v", err)
	}
	if offer.SDP != "v=0 offer" || offer.Type != "offer" {
		t.Errorf("offer payload = %+v", offer)
	}

	sig := sink.waitFor(t, func(s Signal) bool {
		_, ok := s.(Answer)
		return ok
	})
	if sig.(Answer).SDP != "v=0 answer" {
		t.Errorf("answer SDP = %q", sig.(Answer).SDP)
	}

	fd.mu.Lock()
	cookie := fd.gotCookie
	fd.mu.Unlock()
	if cookie != "stream-token" {
		t.Errorf("device saw cookie %q, want stream-token", cookie)
	}
}

func TestCandidatesQueuedBeforeOfferFlushInOrder(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	for i := 0; i < 3; i++ {
		cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d", i)}
		if err := relay.HandleCandidate(context.Background(), "sess-1", cand); err != nil {
			t.Fatalf("HandleCandidate() error = %v", err)
		}
	}
	if got := relay.PendingCount("sess-1"); got != 3 {
		t.Fatalf("PendingCount = %d, want 3", got)
	}

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}

	msgs := fd.waitForMessages(4)
	if msgs[0].Event != eventVideoOffer {
		t.Errorf("first message event = %q, want offer before candidates", msgs[0].Event)
	}
	for i, msg := range msgs[1:4] {
		if msg.Event != eventVideoCandidate {
			t.Fatalf("message %d event = %q, want %q", i+1, msg.Event, eventVideoCandidate)
		}
		var payload candidatePayload
		if err := json.Unmarshal([]byte(msg.Data), &payload); err != nil {
			t.Fatalf("candidate data decode: %v", err)
		}
		if want := fmt.Sprintf("candidate:%d", i); payload.Candidate != want {
			t.Errorf("candidate %d = %q, want %q (order preserved)", i, payload.Candidate, want)
		}
	}

	if got := relay.PendingCount("sess-1"); got != 0 {
		t.Errorf("PendingCount after flush = %d, want 0", got)
	}
}

func TestPendingQueueCapDropsOverflow(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)
	relay.cfg.MaxPendingCandidates = 2

	for i := 0; i < 5; i++ {
		cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d", i)}
		if err := relay.HandleCandidate(context.Background(), "sess-1", cand); err != nil {
			t.Fatalf("HandleCandidate() error = %v", err)
		}
	}

	if got := relay.PendingCount("sess-1"); got != 2 {
		t.Errorf("PendingCount = %d, want 2 (overflow dropped)", got)
	}
}

func TestDuplicateOfferRejected(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}

	err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send)
	if !errors.Is(err, domain.ErrSessionExists) {
		t.Errorf("second HandleOffer() error = %v, want ErrSessionExists", err)
	}
}

func TestHandleOfferWithoutConnectionInfo(t *testing.T) {
	provider := func() (ports.ConnectionInfo, bool) {
		return ports.ConnectionInfo{}, false
	}
	relay := NewRelay(DefaultConfig(), provider, device.NewStreamAuthenticator(), nil, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay.Start(ctx)

	err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", func(Signal) {})
	if !errors.Is(err, domain.ErrConnectionInfoMissing) {
		t.Errorf("HandleOffer() error = %v, want ErrConnectionInfoMissing", err)
	}
}

func TestHandleOfferBeforeStart(t *testing.T) {
	fd := newFakeDevice(t)
	provider := func() (ports.ConnectionInfo, bool) {
		return ports.ConnectionInfo{BaseURL: fd.srv.URL, Username: "admin", Password: "admin"}, true
	}
	relay := NewRelay(DefaultConfig(), provider, device.NewStreamAuthenticator(), nil, zap.NewNop().Sugar())

	err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", func(Signal) {})
	if !errors.Is(err, domain.ErrRelayNotReady) {
		t.Errorf("HandleOffer() error = %v, want ErrRelayNotReady", err)
	}
}

func TestHandleOfferUnreachableDevice(t *testing.T) {
	provider := func() (ports.ConnectionInfo, bool) {
		return ports.ConnectionInfo{BaseURL: "http://127.0.0.1:1", Username: "admin", Password: "admin"}, true
	}
	cfg := DefaultConfig()
	cfg.LoginTimeout = 500 * time.Millisecond
	relay := NewRelay(cfg, provider, device.NewStreamAuthenticator(), nil, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay.Start(ctx)

	err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", func(Signal) {})
	if err == nil {
		t.Fatal("HandleOffer() should fail for unreachable device")
	}
	if relay.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0 after failed establish", relay.ActiveSessions())
	}
	if relay.PendingCount("sess-1") != 0 {
		t.Errorf("pending queue should be dropped after failed establish")
	}
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}
	if relay.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", relay.ActiveSessions())
	}

	relay.CloseSession("sess-1")
	relay.CloseSession("sess-1")

	deadline := time.Now().Add(2 * time.Second)
	for relay.ActiveSessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if relay.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0 after close", relay.ActiveSessions())
	}

	// A clean unsubscribe must not surface an error signal to the viewer.
	time.Sleep(50 * time.Millisecond)
	for _, sig := range sink.all() {
		if _, isErr := sig.(SignalError); isErr {
			t.Errorf("unexpected error signal after clean close: %+v", sig)
		}
	}
}

func TestDeviceDisconnectNotifiesViewer(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}
	fd.waitForMessages(1)

	// Abruptly drop the device side.
	fd.mu.Lock()
	for _, conn := range fd.conns {
		conn.UnderlyingConn().Close()
	}
	fd.mu.Unlock()

	sig := sink.waitFor(t, func(s Signal) bool {
		_, ok := s.(SignalError)
		return ok
	})
	if sig.(SignalError).Code != "webrtc_signal_failed" {
		t.Errorf("error code = %q, want webrtc_signal_failed", sig.(SignalError).Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for relay.ActiveSessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if relay.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0 after device disconnect", relay.ActiveSessions())
	}
}

func TestCandidateAfterEstablishForwardedDirectly(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}
	fd.waitForMessages(1)

	mid := "0"
	cand := webrtc.ICECandidateInit{Candidate: "candidate:live", SDPMid: &mid}
	if err := relay.HandleCandidate(context.Background(), "sess-1", cand); err != nil {
		t.Fatalf("HandleCandidate() error = %v", err)
	}

	msgs := fd.waitForMessages(2)
	var payload candidatePayload
	if err := json.Unmarshal([]byte(msgs[1].Data), &payload); err != nil {
		t.Fatalf("candidate data decode: %v", err)
	}
	if payload.Candidate != "candidate:live" || payload.SDPMid == nil || *payload.SDPMid != "0" {
		t.Errorf("forwarded candidate = %+v", payload)
	}
	if payload.SDPMLineIndex != nil || payload.UsernameFragment != nil {
		t.Errorf("absent optional fields must be omitted, got %+v", payload)
	}
}

func TestShutdownClosesAllSessions(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sess-%d", i)
		if err := relay.HandleOffer(context.Background(), "v=0 offer", id, (&signalSink{}).send); err != nil {
			t.Fatalf("HandleOffer(%s) error = %v", id, err)
		}
	}
	if relay.ActiveSessions() != 3 {
		t.Fatalf("ActiveSessions = %d, want 3", relay.ActiveSessions())
	}

	relay.Shutdown()
	if relay.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0 after shutdown", relay.ActiveSessions())
	}

	// New sessions are rejected after shutdown.
	err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-late", func(Signal) {})
	if !errors.Is(err, domain.ErrRelayNotReady) {
		t.Errorf("HandleOffer() after shutdown error = %v, want ErrRelayNotReady", err)
	}
}

func TestMalformedDeviceMessagesSkipped(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}
	fd.waitForMessages(1)

	fd.mu.Lock()
	conn := fd.conns[0]
	fd.mu.Unlock()

	// Garbage outer envelope, then a known event with garbage inner data,
	// then a well-formed candidate that must still come through.
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	conn.WriteJSON(deviceEnvelope{Event: eventVideoCandidate, Data: "{not json"})
	inner, _ := json.Marshal(candidatePayload{Candidate: "candidate:after-garbage"})
	conn.WriteJSON(deviceEnvelope{Event: eventVideoCandidate, Data: string(inner)})

	sink.waitFor(t, func(s Signal) bool {
		c, ok := s.(Candidate)
		return ok && c.Candidate.Candidate == "candidate:after-garbage"
	})

	for _, s := range sink.all() {
		if _, isErr := s.(SignalError); isErr {
			t.Errorf("malformed device message surfaced an error signal: %+v", s)
		}
	}
	if got := len(sink.all()); got != 1 {
		t.Errorf("viewer received %d signals, want only the valid candidate", got)
	}
	if relay.ActiveSessions() != 1 {
		t.Error("session should survive malformed device messages")
	}
}

func TestHeartbeatIgnored(t *testing.T) {
	fd := newFakeDevice(t)
	relay := newTestRelay(t, fd)

	sink := &signalSink{}
	if err := relay.HandleOffer(context.Background(), "v=0 offer", "sess-1", sink.send); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}
	fd.waitForMessages(1)

	fd.mu.Lock()
	conn := fd.conns[0]
	fd.mu.Unlock()
	conn.WriteJSON(deviceEnvelope{Event: eventHeartbeat, Data: "{}"})
	conn.WriteJSON(deviceEnvelope{Event: "unknown-event", Data: "{}"})

	time.Sleep(100 * time.Millisecond)
	if got := sink.all(); len(got) != 0 {
		t.Errorf("viewer received %d signals for heartbeat/unknown events, want 0", len(got))
	}
	if relay.ActiveSessions() != 1 {
		t.Errorf("session should stay alive through heartbeat")
	}
}
