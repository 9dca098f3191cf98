package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aristath/networth/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	// streamBuffer is the number of events queued per client before drops
	streamBuffer = 64
	writeTimeout = 10 * time.Second
)

// EventHandlers serves the event history and the live event stream
type EventHandlers struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventHandlers creates event handlers
func NewEventHandlers(bus *events.Bus, log zerolog.Logger) *EventHandlers {
	return &EventHandlers{
		bus: bus,
		log: log.With().Str("handler", "events").Logger(),
	}
}

// HandleRecent handles GET /api/events/recent?limit=50
func (h *EventHandlers) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.log, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	writeData(w, h.log, http.StatusOK, h.bus.Recent(limit))
}

// HandleWebSocket handles GET /api/events/ws.
// Every bus event is forwarded to the client as a JSON text message. Slow
// clients lose events rather than blocking publishers.
func (h *EventHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Client messages are ignored; CloseRead cancels ctx once the peer goes away
	ctx := conn.CloseRead(r.Context())

	queue := make(chan events.Event, streamBuffer)
	var dropped atomic.Int64
	unsubscribe := h.bus.SubscribeAll("websocket-"+r.RemoteAddr, func(_ context.Context, event events.Event) error {
		select {
		case queue <- event:
		default:
			dropped.Add(1)
		}
		return nil
	})
	defer unsubscribe()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	for {
		select {
		case <-ctx.Done():
			h.log.Debug().
				Str("remote", r.RemoteAddr).
				Int64("dropped", dropped.Load()).
				Msg("Event stream client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-queue:
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event")
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Event stream write failed")
				return
			}
		}
	}
}
