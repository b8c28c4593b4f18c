package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pitchvision/pitchvision/internal/models"
	"github.com/pitchvision/pitchvision/internal/utils"
)

// FrameCallback receives each decoded frame for a stream, in arrival order.
// It must not block: the transport read loop calls it inline.
type FrameCallback func(frame *models.VideoFrame)

// ErrorHandler is invoked when a session fails (negotiation timeout, track
// loss). Failures surface as events, never panics; the orchestrator decides
// whether to tear the stream down.
type ErrorHandler func(streamID, sessionID, reason string)

// SignalRelay forwards opaque signaling payloads toward the remote peer. The
// negotiation state machine itself belongs to the two peers; the manager only
// relays payloads and enforces the negotiation deadline.
type SignalRelay interface {
	Forward(ctx context.Context, sessionID string, toInitiator bool, payload json.RawMessage) error
}

type sessionState int

const (
	sessionNegotiating sessionState = iota
	sessionConnected
	sessionClosed
	sessionFailed
)

type session struct {
	id        string
	streamID  string
	initiator bool
	state     sessionState
	createdAt time.Time
	timer     *time.Timer

	framesDelivered uint64
	lastFrameAt     time.Time
}

// Manager owns one transport session per stream and delivers decoded frames
// to the registered callback.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*session      // sessionID -> session
	byStream  map[string]string        // streamID -> sessionID
	callbacks map[string]FrameCallback // streamID -> callback

	relay              SignalRelay
	log                *logrus.Logger
	negotiationTimeout time.Duration
	onError            ErrorHandler
}

func NewManager(relay SignalRelay, log *logrus.Logger, negotiationTimeout time.Duration) *Manager {
	if negotiationTimeout <= 0 {
		negotiationTimeout = 30 * time.Second
	}
	return &Manager{
		sessions:           make(map[string]*session),
		byStream:           make(map[string]string),
		callbacks:          make(map[string]FrameCallback),
		relay:              relay,
		log:                log,
		negotiationTimeout: negotiationTimeout,
	}
}

// SetErrorHandler registers the session failure hook. Must be called before
// sessions are created.
func (m *Manager) SetErrorHandler(h ErrorHandler) { m.onError = h }

// CreateSession opens the transport session for a stream. A session that
// never starts delivering media within the negotiation timeout is closed and
// reported as failed; no silent hangs.
func (m *Manager) CreateSession(streamID string, isInitiator bool) (string, error) {
	const op = "PeerManager.CreateSession"

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byStream[streamID]; ok {
		return "", utils.E(utils.CodeConflict, op, "stream already has a session", nil)
	}

	s := &session{
		id:        uuid.NewString(),
		streamID:  streamID,
		initiator: isInitiator,
		state:     sessionNegotiating,
		createdAt: time.Now().UTC(),
	}
	s.timer = time.AfterFunc(m.negotiationTimeout, func() { m.negotiationExpired(s.id) })

	m.sessions[s.id] = s
	m.byStream[streamID] = s.id
	return s.id, nil
}

func (m *Manager) negotiationExpired(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state != sessionNegotiating {
		m.mu.Unlock()
		return
	}
	s.state = sessionFailed
	streamID := s.streamID
	m.removeLocked(s)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"stream_id":  streamID,
	}).Warn("session negotiation timed out")

	if m.onError != nil {
		m.onError(streamID, sessionID, "negotiation timeout")
	}
}

// Signal feeds one negotiation payload (offer, answer or candidate, opaque to
// us) from either side and relays it toward the other peer. Idempotent and
// order-tolerant: repeated or reordered payloads are relayed as-is, the
// peers' transport library resolves them.
func (m *Manager) Signal(ctx context.Context, sessionID string, fromInitiator bool, payload json.RawMessage) error {
	const op = "PeerManager.Signal"

	m.mu.RLock()
	_, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return utils.E(utils.CodeNotFound, op, "session not found", nil)
	}

	if err := m.relay.Forward(ctx, sessionID, !fromInitiator, payload); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to relay signal", err)
	}
	return nil
}

// RegisterFrameCallback wires decoded-frame delivery for a stream.
func (m *Manager) RegisterFrameCallback(streamID string, cb FrameCallback) {
	m.mu.Lock()
	m.callbacks[streamID] = cb
	m.mu.Unlock()
}

// DeliverFrame ingests one binary wire message for a session: decodes it,
// marks the session connected (first media completes negotiation) and hands
// the frame to the stream's callback.
func (m *Manager) DeliverFrame(sessionID string, data []byte) error {
	const op = "PeerManager.DeliverFrame"

	frame, err := DecodeFrame(data)
	if err != nil {
		return utils.E(utils.CodeInvalidArgument, op, "undecodable frame", err)
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state == sessionClosed || s.state == sessionFailed {
		m.mu.Unlock()
		return utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	if s.state == sessionNegotiating {
		s.state = sessionConnected
		s.timer.Stop()
	}
	s.framesDelivered++
	s.lastFrameAt = time.Now().UTC()
	cb := m.callbacks[s.streamID]
	m.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
	return nil
}

// ReportTrackLoss surfaces a media-track failure observed by the transport
// layer for a session.
func (m *Manager) ReportTrackLoss(sessionID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = sessionFailed
	streamID := s.streamID
	m.removeLocked(s)
	m.mu.Unlock()

	if m.onError != nil {
		m.onError(streamID, sessionID, reason)
	}
}

// CloseSession tears the session down. Closing an unknown session is a no-op:
// teardown paths race with negotiation timeouts.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = sessionClosed
	m.removeLocked(s)
	m.mu.Unlock()
}

// removeLocked drops all registry entries for s. Caller holds m.mu.
func (m *Manager) removeLocked(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(m.sessions, s.id)
	delete(m.byStream, s.streamID)
	delete(m.callbacks, s.streamID)
}

// SessionForStream resolves the session id owning a stream.
func (m *Manager) SessionForStream(streamID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byStream[streamID]
	return id, ok
}
