package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// handleLive upgrades to a websocket and pushes today's totals: one snapshot
// on connect, then one message after every ingest. The client never sends
// anything; reads only serve to detect the close.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := r.Context()

	if snapshot, err := json.Marshal(s.store.Today()); err == nil {
		if err := conn.Write(ctx, websocket.MessageText, snapshot); err != nil {
			return
		}
	}

	// Drain client frames so pings and the close handshake are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 8)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.subMu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

// broadcastToday pushes the current day totals to every live feed. Slow
// subscribers drop messages rather than blocking ingest.
func (s *Server) broadcastToday() {
	msg, err := json.Marshal(s.store.Today())
	if err != nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *Server) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}
