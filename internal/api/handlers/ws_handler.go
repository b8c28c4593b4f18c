package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/pitchvision/pitchvision/internal/events"
	"github.com/pitchvision/pitchvision/internal/peer"
	"github.com/pitchvision/pitchvision/internal/services"
	"github.com/pitchvision/pitchvision/internal/utils"
)

type WSHandler struct {
	orch     *services.Orchestrator
	redis    *redis.Client
	upgrader websocket.Upgrader
}

func NewWSHandler(orch *services.Orchestrator, rdb *redis.Client) *WSHandler {
	return &WSHandler{
		orch:  orch,
		redis: rdb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// SignalWS is the per-session signaling socket. Text messages are opaque
// negotiation payloads relayed to the other peer; binary messages are encoded
// video frames ingested into the owning stream. Payloads destined for this
// side arrive via the session's Redis signal channel and are forwarded
// verbatim.
func (h *WSHandler) SignalWS(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.SignalWS", "missing session_id", nil))
		return
	}
	isInitiator := c.Query("role") != "responder"

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, peer.SignalChannel(sessionID, isInitiator))
	defer pubsub.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			typ, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch typ {
			case websocket.BinaryMessage:
				if err := h.orch.IngestFrame(sessionID, data); err != nil {
					_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"frame rejected"}`))
				}
			case websocket.TextMessage:
				if err := h.orch.SignalFrom(ctx, sessionID, isInitiator, data); err != nil {
					_ = wc.writeText([]byte(`{"type":"error","code":"NOT_FOUND","message":"unknown session"}`))
				}
			}
		}
	}()

	// writer: Redis signal channel -> WS
	ch := pubsub.Channel()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}

// EventsWS pushes the ordered domain-event stream for one stream id. Events
// are forwarded as JSON text messages exactly as published; delivery is
// at-least-once, consumers de-duplicate by event_id.
func (h *WSHandler) EventsWS(c *gin.Context) {
	if _, ok := requireClientID(c); !ok {
		return
	}

	streamID := c.Param("stream_id")
	if streamID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.EventsWS", "missing stream_id", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, events.StreamChannel(streamID), events.StatusChannel(streamID))
	defer pubsub.Close()

	// reader exists only to detect the peer going away
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}
