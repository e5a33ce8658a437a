package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/codec"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Operator tooling connects from anywhere on the admin network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades to websocket and relays telemetry frames at
// the configured cadence ceiling. Frames arriving faster than the
// ceiling are skipped; the consumer resyncs through its jitter buffer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames, cancel := s.deps.Broadcast.Subscribe()
	defer cancel()

	// Drain reads so pings and close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSent time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if time.Since(lastSent) < s.streamGap {
				s.deps.Metrics.IncFrameDrop()
				continue
			}

			buf, err := codec.EncodeFrame(frame)
			if err != nil {
				logs.Errorf("encode stream frame, err: %+v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
			lastSent = time.Now()
		}
	}
}
