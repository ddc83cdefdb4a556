package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/metrics"
)

const (
	EventStatus    = "status"
	EventDelivered = "delivered"
)

// Event is the JSON frame pushed to websocket subscribers.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	Data           interface{} `json:"data"`
	Time           time.Time   `json:"time"`
}

type StatusData struct {
	Text string `json:"text"`
}

type DeliveredData struct {
	Title      string `json:"title"`
	SizeBytes  int64  `json:"sizeBytes"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

type outbound struct {
	conversationID string
	payload        []byte
}

type hubClient struct {
	hub            *Hub
	conn           *websocket.Conn
	conversationID string
	send           chan []byte
}

// Hub fans conversation events out to websocket subscribers. Each client
// subscribes to exactly one conversation.
type Hub struct {
	clients    map[*hubClient]bool
	broadcast  chan outbound
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run owns the client table until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				h.drop(client)
			}
			h.logger.Debug("event hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.logger.Debug("event subscriber connected",
				slog.String("conversation", client.conversationID),
				slog.Int("total", len(h.clients)),
			)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("event subscriber disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.conversationID != msg.conversationID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *hubClient) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.EventSubscribers.Set(float64(len(h.clients)))
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Publish queues an event for the conversation's subscribers. Events are
// dropped when nobody listens or the hub is saturated.
func (h *Hub) Publish(conversationID, eventType string, data interface{}) {
	if h.count.Load() == 0 {
		return
	}
	payload, err := json.Marshal(Event{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
		Time:           time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("event marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- outbound{conversationID: conversationID, payload: payload}:
	default:
	}
}

func (h *Hub) Notify(ctx context.Context, conversationID, text string) error {
	h.Publish(conversationID, EventStatus, StatusData{Text: text})
	return nil
}

func (h *Hub) Deliver(ctx context.Context, conversationID string, artifact *domain.Artifact) error {
	if artifact == nil {
		return errors.New("artifact is required")
	}
	h.Publish(conversationID, EventDelivered, DeliveredData{
		Title:      artifact.Title,
		SizeBytes:  artifact.SizeBytes,
		DurationMS: artifact.Duration.Milliseconds(),
		Codec:      artifact.Codec,
	})
	return nil
}

// ServeHTTP upgrades the request and subscribes it to ?conversation=ID.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation"))
	if conversationID == "" {
		http.Error(w, "conversation is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &hubClient{
		hub:            h,
		conn:           conn,
		conversationID: conversationID,
		send:           make(chan []byte, 32),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
