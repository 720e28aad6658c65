package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/avramides/folio/internal/events"
)

// EventsStreamHandler fans bus events out to connected websocket clients so
// the dashboard can refresh without polling.
type EventsStreamHandler struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[chan *events.Event]struct{}
}

// NewEventsStreamHandler creates the stream handler and wires it to the bus.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	h := &EventsStreamHandler{
		log:     log.With().Str("handler", "events_stream").Logger(),
		clients: make(map[chan *events.Event]struct{}),
	}
	bus.SubscribeAll(h.broadcast)
	return h
}

// broadcast delivers one event to every connected client. Publish is
// synchronous, so sends never block: a client with a full buffer loses
// the event instead of stalling the mutation that published it.
func (h *EventsStreamHandler) broadcast(event *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Dropping event for slow client")
		}
	}
}

// ServeHTTP handles GET /api/events/ws
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := make(chan *events.Event, 64)
	h.addClient(ch)
	defer h.removeClient(ch)

	h.log.Debug().Msg("Event stream client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Event stream client disconnected")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func (h *EventsStreamHandler) addClient(ch chan *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
}

func (h *EventsStreamHandler) removeClient(ch chan *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
}
