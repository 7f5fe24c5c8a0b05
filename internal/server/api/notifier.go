package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WSConn is the slice of a WebSocket connection the notifier needs, kept as
// an interface so tests don't have to dial a real socket.
type WSConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Notification is the payload delivered to webhooks and WebSocket clients
// when a subscription's standing search produces a new result.
type Notification struct {
	SubscriptionID string        `json:"subscription_id"`
	DeliveredAt    time.Time     `json:"delivered_at"`
	Results        []visitedNode `json:"results"`
}

// Notifier delivers subscription results over webhooks and WebSockets.
type Notifier struct {
	log        *zap.Logger
	httpClient *http.Client

	mu        sync.RWMutex
	wsClients map[string]WSConn // subscription id -> connection
}

// NewNotifier creates a notifier with a bounded webhook timeout.
func NewNotifier(log *zap.Logger) *Notifier {
	return &Notifier{
		log:        log,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wsClients:  make(map[string]WSConn),
	}
}

// Close drops all WebSocket connections.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, conn := range n.wsClients {
		conn.Close()
	}
	n.wsClients = make(map[string]WSConn)
}

// RegisterWSClient attaches a WebSocket connection to a subscription,
// replacing any previous one.
func (n *Notifier) RegisterWSClient(subID string, conn WSConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.wsClients[subID]; ok {
		existing.Close()
	}
	n.wsClients[subID] = conn
}

// UnregisterWSClient detaches and closes a subscription's WebSocket
// connection, if any.
func (n *Notifier) UnregisterWSClient(subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conn, ok := n.wsClients[subID]; ok {
		conn.Close()
		delete(n.wsClients, subID)
	}
}

// SendWebhook POSTs a notification with bounded retries.
func (n *Notifier) SendWebhook(url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Topograph-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.log.Warn("webhook delivery attempt failed",
				zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		n.log.Warn("webhook delivery attempt rejected",
			zap.String("url", url), zap.Int("attempt", attempt+1), zap.Int("status", resp.StatusCode))
	}

	n.log.Error("webhook delivery failed",
		zap.String("url", url), zap.String("subscription", notification.SubscriptionID), zap.Error(lastErr))
	return lastErr
}

// SendWebSocket pushes a notification to the subscription's WebSocket
// client. No registered client is not an error.
func (n *Notifier) SendWebSocket(subID string, notification Notification) error {
	n.mu.RLock()
	conn, ok := n.wsClients[subID]
	n.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := conn.WriteJSON(notification); err != nil {
		n.log.Warn("websocket send failed",
			zap.String("subscription", subID), zap.Error(err))
		n.UnregisterWSClient(subID)
		return err
	}
	return nil
}
