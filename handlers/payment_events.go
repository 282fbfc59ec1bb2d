package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"

	"qrpay/services"
	"qrpay/templates/checkout"
	"qrpay/utils"
)

// SSE event names understood by the payment page
const (
	EventPaymentUpdate = "payment-update"
	EventModalUpdate   = "modal-update"
)

// SSEEvent is one rendered server-sent event.
type SSEEvent struct {
	Name string
	Data string
	// Final events end the stream once delivered.
	Final bool
}

// SSEConnection represents one browser listening for payment updates
type SSEConnection struct {
	SessionID string
	Events    chan SSEEvent
}

// SSEBroadcaster fans payment updates out to every browser of a session.
type SSEBroadcaster struct {
	connections map[string]map[*SSEConnection]struct{}
	mutex       sync.RWMutex
	websiteName string
}

func NewSSEBroadcaster(websiteName string) *SSEBroadcaster {
	return &SSEBroadcaster{
		connections: make(map[string]map[*SSEConnection]struct{}),
		websiteName: websiteName,
	}
}

// AddConnection registers a new listener for the session.
func (b *SSEBroadcaster) AddConnection(sessionID string) *SSEConnection {
	conn := &SSEConnection{SessionID: sessionID, Events: make(chan SSEEvent, 16)}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.connections[sessionID] == nil {
		b.connections[sessionID] = make(map[*SSEConnection]struct{})
	}
	b.connections[sessionID][conn] = struct{}{}

	utils.Debug("sse", "New browser connection", "session", sessionID)
	return conn
}

// RemoveConnection unregisters a listener.
func (b *SSEBroadcaster) RemoveConnection(conn *SSEConnection) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	conns := b.connections[conn.SessionID]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(b.connections, conn.SessionID)
	}
	utils.Debug("sse", "Removed browser connection", "session", conn.SessionID)
}

// ConnectionCount returns the number of open browser streams.
func (b *SSEBroadcaster) ConnectionCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	n := 0
	for _, conns := range b.connections {
		n += len(conns)
	}
	return n
}

// Broadcast queues an event for every browser of the session. A browser that
// is too far behind misses the event rather than stalling the payment.
func (b *SSEBroadcaster) Broadcast(sessionID string, event SSEEvent) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for conn := range b.connections[sessionID] {
		select {
		case conn.Events <- event:
		default:
			utils.Warn("sse", "Dropping event for slow browser", "session", sessionID, "event", event.Name)
		}
	}
}

// BroadcastTransaction renders the fragment for a snapshot and broadcasts it:
// a progress update while the payment runs, a modal replacement once final.
func (b *SSEBroadcaster) BroadcastTransaction(sessionID string, txn services.Transaction) {
	event, err := b.renderEvent(txn)
	if err != nil {
		utils.Error("sse", "Error rendering payment update", "session", sessionID, "error", err)
		return
	}
	if event.Name == "" {
		return
	}
	b.Broadcast(sessionID, event)
}

func (b *SSEBroadcaster) renderEvent(txn services.Transaction) (SSEEvent, error) {
	view := newPaymentView(txn, b.websiteName)

	var component templ.Component
	event := SSEEvent{}
	switch {
	case txn.IsTerminal():
		component = checkout.PaymentStatus(view)
		event.Name = EventModalUpdate
		event.Final = true
	case txn.State == services.StateDisplaying || txn.State == services.StateQuerying:
		component = checkout.PaymentProgress(view)
		event.Name = EventPaymentUpdate
	default:
		return SSEEvent{}, nil
	}

	var buf strings.Builder
	if err := component.Render(context.Background(), &buf); err != nil {
		return SSEEvent{}, err
	}
	event.Data = buf.String()
	return event, nil
}

// writeSSE writes one event, splitting multi-line data into several data
// fields.
func writeSSE(w io.Writer, event SSEEvent) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Name); err != nil {
		return err
	}
	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// PaymentSSEHandler streams the session's payment updates to the browser.
func (h *PaymentHandlers) PaymentSSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported by client", http.StatusInternalServerError)
		return
	}
	sessionID := SessionID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	conn := h.broadcaster.AddConnection(sessionID)
	defer h.broadcaster.RemoveConnection(conn)

	// initial state, so a late subscriber does not wait for the next tick
	if ctrl, exists := h.sessions.GetPayment(sessionID); exists {
		if event, err := h.broadcaster.renderEvent(ctrl.Snapshot()); err == nil && event.Name != "" {
			if err := writeSSE(w, event); err != nil {
				return
			}
			if event.Final {
				flusher.Flush()
				return
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-conn.Events:
			if err := writeSSE(w, event); err != nil {
				utils.Warn("sse", "Error writing to browser", "session", sessionID, "error", err)
				return
			}
			flusher.Flush()
			if event.Final {
				return
			}
		}
	}
}
