package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cdnpulse/internal/core/domain"
	"cdnpulse/internal/core/ports"
	rlog "cdnpulse/pkg/logger"
	"cdnpulse/pkg/tracing"
	"cdnpulse/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MessageMetricUpdate  = "metric_update"
	MessageMetricsUpdate = "metrics_update"
	MessageError         = "error"
	MessagePing          = "ping"
	MessagePong          = "pong"
)

var ErrHubClosed = errors.New("subscriber hub closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS layer
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the inbound envelope.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ConnectionObserver receives subscriber telemetry.
type ConnectionObserver interface {
	ObserveSubscribers(n int)
	ObserveMessage(direction, messageType string)
}

type noopConnectionObserver struct{}

func (noopConnectionObserver) ObserveSubscribers(int)        {}
func (noopConnectionObserver) ObserveMessage(string, string) {}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans out published events to every connected subscriber and feeds
// inbound submissions to the handler.
type Hub struct {
	handler ports.SignalHandler

	clients map[string]*client
	closed  bool
	mu      sync.RWMutex

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	sendBuffer     int
	messageRate    rate.Limit
	messageBurst   int
	maxMessageSize int64

	observer ConnectionObserver
	logger   *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = rlog.New("info").Sugar()
	}
	return &Hub{
		clients:        make(map[string]*client),
		pingInterval:   30 * time.Second,
		pongTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		sendBuffer:     64,
		messageRate:    rate.Inf,
		messageBurst:   1,
		maxMessageSize: 64 * 1024,
		observer:       noopConnectionObserver{},
		logger:         logger,
	}
}

// SetHandler sets the receiver of inbound submissions.
func (h *Hub) SetHandler(handler ports.SignalHandler) {
	h.handler = handler
}

// SetPingInterval sets ping interval for WebSocket connections
func (h *Hub) SetPingInterval(interval time.Duration) {
	h.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (h *Hub) SetPongTimeout(timeout time.Duration) {
	h.pongTimeout = timeout
}

func (h *Hub) SetWriteTimeout(timeout time.Duration) {
	h.writeTimeout = timeout
}

// SetSendBuffer sets how many outbound messages may queue per subscriber
// before it is considered too slow and disconnected.
func (h *Hub) SetSendBuffer(n int) {
	if n > 0 {
		h.sendBuffer = n
	}
}

// SetMessageRateLimit bounds inbound messages per subscriber.
func (h *Hub) SetMessageRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 || burst <= 0 {
		h.messageRate = rate.Inf
		return
	}
	h.messageRate = rate.Limit(perSecond)
	h.messageBurst = burst
}

func (h *Hub) SetMaxMessageSize(n int64) {
	if n > 0 {
		h.maxMessageSize = n
	}
}

func (h *Hub) SetObserver(observer ConnectionObserver) {
	if observer != nil {
		h.observer = observer
	}
}

// HandleWebSocket upgrades the request and serves one subscriber until it
// disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:      utils.GenerateSubscriberID(),
		conn:    conn,
		send:    make(chan []byte, h.sendBuffer),
		limiter: rate.NewLimiter(h.messageRate, h.messageBurst),
		done:    make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	h.logger.Infow("subscriber connected", "subscriber_id", c.id, "remote", r.RemoteAddr)

	if h.handler != nil {
		if latest, ok := h.handler.Latest(); ok {
			h.sendTo(c, outbound{Type: MessageMetricsUpdate, Data: domain.MetricsUpdate{FleetSnapshot: latest}})
		}
	}

	go h.writePump(c)
	h.readPump(rlog.WithSubscriberID(context.Background(), c.id), c)

	h.logger.Infow("subscriber disconnected", "subscriber_id", c.id)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.observer.ObserveSubscribers(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.observer.ObserveSubscribers(len(h.clients))
	}
	h.mu.Unlock()
	c.close()
	c.conn.Close()
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(h.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("error reading from subscriber", "subscriber_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

		if !c.limiter.Allow() {
			h.sendError(c, "rate limit exceeded")
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "invalid message format")
			continue
		}
		if err := h.handleMessage(ctx, c, msg); err != nil {
			h.logger.Debugw("rejected subscriber message", "subscriber_id", c.id, "type", msg.Type, "error", err)
			h.sendError(c, err.Error())
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *client, msg Message) error {
	h.observer.ObserveMessage("inbound", msg.Type)

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, c.id)
	defer span.End()

	switch msg.Type {
	case MessageMetricUpdate:
		return h.handleMetricUpdate(ctx, msg)
	case MessagePing:
		h.sendTo(c, outbound{Type: MessagePong})
		return nil
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (h *Hub) handleMetricUpdate(ctx context.Context, msg Message) error {
	if h.handler == nil {
		return fmt.Errorf("submissions are not accepted")
	}

	var submission domain.MetricSubmission
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &submission); err != nil {
			return fmt.Errorf("invalid metric_update payload: %w", err)
		}
	}
	if _, err := h.handler.Submit(ctx, submission); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Infow("error writing to subscriber", "subscriber_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Infow("error sending ping", "subscriber_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.conn.Close()
			return
		}
	}
}

// Broadcast encodes the event once and queues it for every subscriber.
// Subscribers whose queue is full are disconnected.
func (h *Hub) Broadcast(event string, payload interface{}) error {
	data, err := json.Marshal(outbound{Type: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}

	var slow []*client
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.observer.ObserveMessage("outbound", event)
	for _, c := range slow {
		h.logger.Warnw("dropping slow subscriber", "subscriber_id", c.id)
		c.close()
	}
	return nil
}

func (h *Hub) sendTo(c *client, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Debugw("subscriber queue full, message dropped", "subscriber_id", c.id, "type", msg.Type)
	}
}

func (h *Hub) sendError(c *client, message string) {
	h.sendTo(c, outbound{Type: MessageError, Message: message})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Infow("subscriber hub closed", "subscribers", len(clients))
}
