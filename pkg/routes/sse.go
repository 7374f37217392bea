package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meshflow/meshflow-server/pkg/models"
)

// MessageNotifier fans stored text messages out to SSE subscribers. It
// satisfies the ingestion engine's Notifier interface.
type MessageNotifier struct {
	subscribers map[chan *models.TextMessage]struct{}
	mu          sync.RWMutex
}

// NewMessageNotifier creates a new MessageNotifier
func NewMessageNotifier() *MessageNotifier {
	return &MessageNotifier{
		subscribers: make(map[chan *models.TextMessage]struct{}),
	}
}

// Subscribe adds a new subscriber that will receive stored messages
func (mn *MessageNotifier) Subscribe() chan *models.TextMessage {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	ch := make(chan *models.TextMessage, 8)
	mn.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (mn *MessageNotifier) Unsubscribe(ch chan *models.TextMessage) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	delete(mn.subscribers, ch)
	close(ch)
}

// NotifyTextMessage delivers a freshly stored message to all subscribers.
// Slow subscribers drop messages rather than stalling ingestion.
func (mn *MessageNotifier) NotifyTextMessage(msg *models.TextMessage) {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	for ch := range mn.subscribers {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer is full, skip
		}
	}
}

// SSE endpoint for the live text message feed
func (wr *WebRouter) messagesSSE(w http.ResponseWriter, r *http.Request) {
	if wr.requireUser(w, r) == nil {
		return
	}

	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	if wr.Notifier == nil {
		slog.Warn("SSE endpoint called but MessageNotifier is nil")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	msgCh := wr.Notifier.Subscribe()
	defer wr.Notifier.Unsubscribe(msgCh)

	ctx := r.Context()

	ticker := time.NewTicker(30 * time.Second) // Heartbeat to keep connection alive
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Error("error encoding SSE message", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// Send heartbeat comment to keep connection alive
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
