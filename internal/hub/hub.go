// Package hub fans broadcast payloads out to attached realtime
// clients, filtered by the topic each client subscribed to.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

const (
	TopicQueue   = "queue"
	TopicTracker = "tracker"
)

type Client struct {
	ID    string
	Send  chan []byte
	Topic string
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Topic = topic
}

// Broadcast sends payload to every client subscribed to topic. A
// client with no topic receives everything. Slow clients drop
// messages rather than block the caller.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Topic != "" && client.Topic != topic {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("hub: drop message for client %s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Action == "subscribe" && msg.Topic != TopicQueue && msg.Topic != TopicTracker {
		return SubscribeMessage{}, false
	}
	return msg, true
}
