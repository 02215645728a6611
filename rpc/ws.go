package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"nhbmarket/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

// handleEventStream replays recorded events from ?since= and then follows new
// ones over a websocket.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "event recorder not configured", nil)
		return
	}
	since, err := parseOffset(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, since); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, since int) error {
	updates, offset, cancel := s.recorder.Subscribe(wsBuffer)
	defer cancel()

	// Backlog up to the subscription point, then live records.
	if since < offset {
		backlog, _ := s.recorder.Since(since)
		if len(backlog) > offset-since {
			backlog = backlog[:offset-since]
		}
		for _, evt := range backlog {
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
	position := offset
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			position++
			if position <= since {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
