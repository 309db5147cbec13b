package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/pkg/spin"
)

const (
	EventTypeConnected = "connected"
	EventTypeHeartbeat = "heartbeat"
	EventTypeSpin      = "spin"
)

// StreamHandler fans spin events out to wall displays, operator dashboards
// and guest devices over SSE and WebSocket.
type StreamHandler struct {
	app             *App
	logger          zerolog.Logger
	heartbeatPeriod time.Duration
	upgrader        websocket.Upgrader
}

// NewStreamHandler creates a stream handler
func NewStreamHandler(app *App) *StreamHandler {
	return &StreamHandler{
		app:             app,
		logger:          app.logger.With().Str("handler", "stream").Logger(),
		heartbeatPeriod: 30 * time.Second,
		upgrader: websocket.Upgrader{
			// Wall displays and guest devices connect from arbitrary origins
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// StreamResponse is one message on an observer stream
type StreamResponse struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Event     *spin.Event `json:"event,omitempty"`
	// Replay marks a cached event sent to a late joiner
	Replay bool `json:"replay,omitempty"`
}

// StreamSSE streams spin events over Server-Sent Events.
// Route: GET /api/wheels/{wheel_id}/spin/events
func (h *StreamHandler) StreamSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.WriteHeader(http.StatusOK)

	sender := &sseSender{writer: c.Writer}
	h.stream(c.Request.Context(), c.Param("wheel_id"), sender, nil)
}

// StreamWebSocket streams spin events over WebSocket.
// Route: GET /api/wheels/{wheel_id}/spin/events/ws
func (h *StreamHandler) StreamWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close() //nolint:errcheck

	writeDeadline := 10 * time.Second
	conn.SetWriteDeadline(time.Now().Add(writeDeadline)) //nolint:errcheck

	done := make(chan struct{})

	// Detect connection close
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(10 * time.Minute)) //nolint:errcheck
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket connection closed unexpectedly")
			} else {
				h.logger.Debug().Err(err).Msg("WebSocket closed normally")
			}
		}
	}()

	// Ping to keep intermediaries from dropping the connection
	pingTicker := time.NewTicker(30 * time.Second)
	go func() {
		defer pingTicker.Stop()
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					h.logger.Debug().Err(err).Msg("Failed to send ping")
					return
				}
			}
		}
	}()

	sender := &wsSender{
		conn:          conn,
		done:          done,
		logger:        h.logger,
		writeDeadline: writeDeadline,
	}
	h.stream(c.Request.Context(), c.Param("wheel_id"), sender, done)
}

// stream is the shared observer loop for SSE and WebSocket
func (h *StreamHandler) stream(ctx context.Context, wheelID string, sender messageSender, done <-chan struct{}) {
	events, cancel := h.app.coordinator.Events(ctx, wheelID)
	defer cancel()

	if err := sender.Send(&StreamResponse{
		Type:      EventTypeConnected,
		Timestamp: time.Now().Unix(),
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send connected event, stopping stream")
		return
	}

	// Catch late joiners up on the last event so a wall reconnecting after
	// the resolution still lands on the right slot.
	if last, err := h.app.coordinator.LastEvent(ctx, wheelID); err == nil {
		if err := sender.Send(&StreamResponse{
			Type:      EventTypeSpin,
			Timestamp: time.Now().Unix(),
			Event:     last,
			Replay:    true,
		}); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send cached event, stopping stream")
			return
		}
	} else if !stderrors.Is(err, providers.ErrNoSnapshot) {
		h.logger.Warn().Err(err).Str("wheel_id", wheelID).Msg("Failed to load cached event")
	}

	heartbeat := time.NewTicker(h.heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			h.logger.Debug().Msg("WebSocket connection closed, stopping stream")
			return
		case <-heartbeat.C:
			if err := sender.Send(&StreamResponse{
				Type:      EventTypeHeartbeat,
				Timestamp: time.Now().Unix(),
			}); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to send heartbeat, stopping stream")
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sender.Send(&StreamResponse{
				Type:      EventTypeSpin,
				Timestamp: time.Now().Unix(),
				Event:     &ev,
			}); err != nil {
				h.logger.Warn().
					Err(err).
					Str("wheel_id", wheelID).
					Str("attempt_id", ev.AttemptID).
					Msg("Failed to send spin event, stopping stream")
				return
			}
		}
	}
}

// messageSender abstracts SSE and WebSocket writes
type messageSender interface {
	Send(*StreamResponse) error
}

// sseSender sends messages via SSE
type sseSender struct {
	writer http.ResponseWriter
}

func (s *sseSender) Send(resp *StreamResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("data: " + string(payload) + "\n\n"))
	if err != nil {
		return err
	}
	s.writer.(http.Flusher).Flush()
	return nil
}

// wsSender sends messages via WebSocket
type wsSender struct {
	conn          *websocket.Conn
	done          <-chan struct{}
	logger        zerolog.Logger
	writeDeadline time.Duration
}

func (s *wsSender) Send(resp *StreamResponse) error {
	select {
	case <-s.done:
		s.logger.Debug().Str("event_type", resp.Type).Msg("Connection already closed, skipping send")
		return io.EOF
	default:
	}

	deadline := time.Now().Add(s.writeDeadline)
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set write deadline")
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", resp.Type).Msg("Failed to marshal response")
		return err
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			s.logger.Warn().
				Err(err).
				Str("event_type", resp.Type).
				Msg("WebSocket WriteMessage failed: connection closed (EOF)")
		} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			s.logger.Warn().
				Err(err).
				Str("event_type", resp.Type).
				Msg("WebSocket WriteMessage failed: unexpected close error")
		} else {
			s.logger.Warn().
				Err(err).
				Str("event_type", resp.Type).
				Msg("WebSocket WriteMessage failed")
		}
		return err
	}

	return nil
}
