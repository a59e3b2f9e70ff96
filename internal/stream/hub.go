package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans recomputed itineraries out to the websocket clients watching a
// plan. With redis configured, broadcasts are mirrored over pub/sub so every
// instance reaches its own clients.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	PlanID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(planID string) *Client {
	client := &Client{
		PlanID: planID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[planID] == nil {
		h.clients[planID] = map[*Client]struct{}{}
	}
	h.clients[planID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if planClients, ok := h.clients[client.PlanID]; ok {
		delete(planClients, client)
		if len(planClients) == 0 {
			delete(h.clients, client.PlanID)
		}
	}
	close(client.Send)
}

// deliver hands the payload to every subscriber of the plan. It holds the
// read lock for the whole loop: Unregister closes Send under the write lock,
// so a delivery in flight can never hit a closed channel or a map mutation.
// Sends are non-blocking; a slow client drops the update and catches up on
// the next one.
func (h *Hub) deliver(planID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[planID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) Broadcast(planID string, payload []byte) {
	h.deliver(planID, payload)

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(planID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.Subscribe(ctx, "plan:*:broadcast")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(planIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func redisChannel(planID string) string {
	return "plan:" + planID + ":broadcast"
}

func planIDFromChannel(ch string) string {
	// plan:{id}:broadcast
	const prefix = "plan:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
