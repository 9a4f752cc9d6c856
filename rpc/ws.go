package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"tradevault/audit"
	"tradevault/core/types"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsSubscriberSlop = 64
)

// Hub fans persisted events out to live websocket subscribers. Slow consumers
// are dropped rather than allowed to stall the recorder.
type Hub struct {
	mu   sync.Mutex
	subs map[chan types.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan types.Event]struct{})}
}

// Broadcast delivers the event to every subscriber without blocking.
func (h *Hub) Broadcast(evt types.Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *Hub) subscribe() (chan types.Event, func()) {
	ch := make(chan types.Event, wsSubscriberSlop)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// handleEventStream upgrades to a websocket and streams audit events. The
// optional after query parameter replays the persisted backlog before live
// delivery so reconnecting clients never miss a sequence.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream not configured", http.StatusNotFound)
		return
	}
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	updates, cancel := s.hub.subscribe()
	defer cancel()

	// Subscribe before replaying so nothing emitted during the backlog read
	// is lost; duplicates across the boundary are filtered by cursor.
	cursor := after
	if s.aud != nil {
		for {
			backlog, err := s.aud.Events(audit.Query{AfterSequence: cursor, Limit: 500})
			if err != nil {
				return err
			}
			if len(backlog) == 0 {
				break
			}
			for _, evt := range backlog {
				if err := writeEvent(ctx, conn, evt); err != nil {
					return err
				}
				cursor = evt.Sequence
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if evt.Sequence <= cursor {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
			cursor = evt.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt types.Event) error {
	data, err := json.Marshal(newEventView(evt))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
