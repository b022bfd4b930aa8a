package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"fiatreserve/core/types"
	"fiatreserve/services/reserved/storage"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
	backlogPage      = 500
)

// Hub fans committed records out to live stream subscribers. It implements
// the runtime sink interface. Subscribers that fall behind are dropped.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan types.EventRecord
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan types.EventRecord)}
}

// Publish implements the runtime sink interface.
func (h *Hub) Publish(_ context.Context, records []types.EventRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		for _, rec := range records {
			select {
			case ch <- rec:
			default:
				close(ch)
				delete(h.subs, id)
			}
			if _, alive := h.subs[id]; !alive {
				break
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned cancel function must be
// called once the subscriber is done.
func (h *Hub) Subscribe() (<-chan types.EventRecord, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan types.EventRecord, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			close(existing)
			delete(h.subs, id)
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	after, err := parseCursor(r.URL.Query().Get("after"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "validation", "after must be a non-negative integer")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	last := after
	if s.store != nil {
		for {
			page, err := s.store.Events(ctx, storage.EventFilter{After: last, Limit: backlogPage})
			if err != nil {
				return err
			}
			for _, rec := range page {
				if err := writeRecord(ctx, conn, rec); err != nil {
					return err
				}
				last = rec.Sequence
			}
			if len(page) < backlogPage {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			}
			if rec.Sequence <= last {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.Sequence
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec types.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseCursor(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
