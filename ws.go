package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

// Topics clients can subscribe to.
const (
	topicRuns   = "runs"
	topicStatus = "status"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsMessage is the envelope pushed to WebSocket subscribers.
type wsMessage struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

type wsClient struct {
	id     string
	hub    *wsHub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
}

type wsHub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

func newWSHub() *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// run owns the client set until ctx is canceled.
func (h *wsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			LogDebug("ws").Str("client", client.id).Int("total", total).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			LogDebug("ws").Str("client", client.id).Int("total", total).Msg("Client disconnected")
		}
	}
}

// BroadcastEvent pushes a provisioning event to "runs" subscribers.
func (h *wsHub) BroadcastEvent(event ProvisionEvent) {
	h.broadcast(topicRuns, event)
}

// BroadcastStatus pushes a status snapshot to "status" subscribers.
func (h *wsHub) BroadcastStatus(summary StatusSummary) {
	h.broadcast(topicStatus, summary)
}

func (h *wsHub) broadcast(topic string, payload interface{}) {
	data, err := json.Marshal(wsMessage{Topic: topic, Payload: payload})
	if err != nil {
		LogError("ws").Err(err).Msg("Failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.topics[topic] {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Channel full: drop the oldest message and retry once
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- data:
			default:
				LogDebug("ws").Str("client", client.id).Msg("Client channel full, dropping message")
			}
		}
	}
}

// subscriberCount reports how many clients follow a topic.
func (h *wsHub) subscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.clients {
		if client.topics[topic] {
			n++
		}
	}
	return n
}

func (h *wsHub) setTopic(client *wsClient, topic string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if on {
		client.topics[topic] = true
	} else {
		delete(client.topics, topic)
	}
}

// handleWS upgrades the connection and starts the client pumps. New
// clients follow "runs" until they say otherwise.
func (a *App) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		LogWarn("ws").Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     uuid.New().String(),
		hub:    a.wsHub,
		conn:   conn,
		send:   make(chan []byte, 64),
		topics: map[string]bool{topicRuns: true},
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes subscription messages until the client goes away.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				LogDebug("ws").Err(err).Msg("WebSocket read error")
			}
			break
		}

		msgType := gjson.GetBytes(message, "type").String()
		topic := gjson.GetBytes(message, "topic").String()
		if topic == "" {
			continue
		}

		switch msgType {
		case "subscribe":
			c.hub.setTopic(c, topic, true)
			LogDebug("ws").Str("client", c.id).Str("topic", topic).Msg("Client subscribed")
		case "unsubscribe":
			c.hub.setTopic(c, topic, false)
			LogDebug("ws").Str("client", c.id).Str("topic", topic).Msg("Client unsubscribed")
		}
	}
}

// writePump pushes queued messages and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
