package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/cronloop/internal/history"
)

// stream fans run records out to WebSocket subscribers. A slow
// subscriber is dropped rather than allowed to block the engine.
type stream struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[chan history.Entry]struct{}
	closed bool
}

func newStream(logger *slog.Logger) *stream {
	return &stream{
		logger: logger,
		subs:   make(map[chan history.Entry]struct{}),
	}
}

// publish delivers one run record to every subscriber, non-blocking.
func (s *stream) publish(entry history.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- entry:
		default:
			// Buffer full: the subscriber stopped reading.
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *stream) subscribe() (chan history.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan history.Entry, 16)
	s.subs[ch] = struct{}{}
	return ch, true
}

func (s *stream) unsubscribe(ch chan history.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// close drops every subscriber and refuses new ones.
func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// handleSubscribe upgrades to WebSocket and writes one JSON run record
// per message until the client disconnects.
func (s *stream) handleSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "unexpected close")

		ch, ok := s.subscribe()
		if !ok {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer s.unsubscribe(ch)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case entry, open := <-ch:
				if !open {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				data, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}
