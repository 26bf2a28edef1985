package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/astroconnect/call-billing-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	CallID string
	Events chan Event
	Done   chan struct{}
}

// Broker fans call events out to SSE clients. Events travel through Redis
// pub/sub so subscribers on any server instance see updates regardless of
// which instance processed the webhook.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // callID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(callID string) *Client {
	client := &Client{
		CallID: callID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[callID] == nil {
		b.clients[callID] = make(map[*Client]bool)
		go b.subscribeToRedis(callID)
	}
	b.clients[callID][client] = true
	clientCount := len(b.clients[callID])
	b.mu.Unlock()

	log.Info().
		Str("callId", callID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.CallID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.CallID)
		}

		log.Info().
			Str("callId", client.CallID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, callID, eventType string, data json.RawMessage) error {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return err
	}

	channel := redisclient.CallChannel(callID)
	return b.redis.Publish(ctx, channel, payload).Err()
}

func (b *Broker) subscribeToRedis(callID string) {
	channel := redisclient.CallChannel(callID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("callId", callID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(callID, event)
		}
	}
}

func (b *Broker) broadcast(callID string, event Event) {
	b.mu.RLock()
	clients := b.clients[callID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("callId", callID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(callID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[callID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
