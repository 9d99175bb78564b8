package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"tokensale/core/events"
	"tokensale/observability"
)

const (
	wsWriteTimeout    = 10 * time.Second
	subscriberBacklog = 64
)

// StreamMessage is one event as delivered to websocket subscribers.
type StreamMessage struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	saleID string
	ch     chan StreamMessage
}

// Hub fans committed engine events out to websocket subscribers. Slow
// subscribers lose messages rather than blocking the engine.
type Hub struct {
	logger  *slog.Logger
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Payload()
	if payload == nil {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	msg := StreamMessage{Sequence: h.seq.Add(1), Type: payload.Type, Attributes: attrs}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.saleID != "" && !strings.EqualFold(sub.saleID, attrs["saleId"]) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener, optionally restricted to one sale. The
// returned cancel function must be called to release it.
func (h *Hub) Subscribe(saleID string) (<-chan StreamMessage, func()) {
	sub := &subscriber{saleID: strings.TrimSpace(saleID), ch: make(chan StreamMessage, subscriberBacklog)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	observability.API().StreamOpened()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			observability.API().StreamClosed()
		})
	}
}

// Dropped reports how many messages were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream unavailable"})
		return
	}
	saleID := strings.TrimSpace(r.URL.Query().Get("saleId"))
	if saleID != "" {
		if _, err := parseSaleID(saleID); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, saleID); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, saleID string) error {
	updates, cancel := s.hub.Subscribe(saleID)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-updates:
			if err := writeStreamMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
