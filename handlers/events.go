package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"shelfstream/services/stream"
)

// EventsHub pushes stream lifecycle events to connected clients over
// server-sent events. Each client subscribes once with its clientId and
// receives only its own events.
type EventsHub struct {
	mu   sync.Mutex
	subs map[string]map[chan sseEvent]struct{}
}

type sseEvent struct {
	name string
	data any
}

func NewEventsHub() *EventsHub {
	return &EventsHub{subs: make(map[string]map[chan sseEvent]struct{})}
}

var _ stream.Notifier = (*EventsHub)(nil)

func (h *EventsHub) StreamOpen(clientID string, d stream.Descriptor) {
	h.publish(clientID, "stream_open", d)
}

func (h *EventsHub) StreamProgress(clientID string, p stream.Progress) {
	h.publish(clientID, "stream_progress", p)
}

func (h *EventsHub) StreamReady(clientID, streamID string) {
	h.publish(clientID, "stream_ready", map[string]string{"id": streamID})
}

func (h *EventsHub) StreamError(clientID, streamID, message string) {
	h.publish(clientID, "stream_error", map[string]string{"id": streamID, "error": message})
}

func (h *EventsHub) StreamClosed(clientID, streamID string) {
	h.publish(clientID, "stream_closed", map[string]string{"id": streamID})
}

func (h *EventsHub) publish(clientID, name string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[clientID] {
		select {
		case ch <- sseEvent{name: name, data: data}:
		default:
			// Slow consumer; drop rather than stall the stream machinery.
		}
	}
}

// SubscriberCount reports how many connections a client has open.
func (h *EventsHub) SubscriberCount(clientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[clientID])
}

func (h *EventsHub) subscribe(clientID string) chan sseEvent {
	ch := make(chan sseEvent, 16)
	h.mu.Lock()
	if h.subs[clientID] == nil {
		h.subs[clientID] = make(map[chan sseEvent]struct{})
	}
	h.subs[clientID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventsHub) unsubscribe(clientID string, ch chan sseEvent) {
	h.mu.Lock()
	if set := h.subs[clientID]; set != nil {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, clientID)
		}
	}
	h.mu.Unlock()
}

// Subscribe is the SSE endpoint. The connection stays open until the client
// disconnects.
func (h *EventsHub) Subscribe(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
	if clientID == "" {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe(clientID)
	defer h.unsubscribe(clientID, ch)
	log.Printf("[events] client %s connected", clientID)

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[events] client %s disconnected", clientID)
			return
		case ev := <-ch:
			payload, err := json.Marshal(ev.data)
			if err != nil {
				log.Printf("[events] failed to encode %s event: %v", ev.name, err)
				continue
			}
			if _, err := w.Write([]byte("event: " + ev.name + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
