package sse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/timeworked/timeworked/internal/redis"
)

const clientBufferSize = 100

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	SubjectID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans session events out to stream subscribers. With a Redis client
// events travel through pub/sub so every server instance sees them; without
// one they are delivered in-process only.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // subjectID -> set of clients
	relays  map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		relays:  make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(subjectID string) *Client {
	client := &Client{
		SubjectID: subjectID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[subjectID] == nil {
		b.clients[subjectID] = make(map[*Client]bool)
		if b.redis != nil {
			relayCtx, cancel := context.WithCancel(b.ctx)
			b.relays[subjectID] = cancel
			go b.subscribeToRedis(relayCtx, subjectID)
		}
	}
	b.clients[subjectID][client] = true
	clientCount := len(b.clients[subjectID])
	b.mu.Unlock()

	log.Info().
		Str("subjectId", subjectID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.SubjectID]; ok {
		if _, subscribed := clients[client]; !subscribed {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.SubjectID)
			if cancel, ok := b.relays[client.SubjectID]; ok {
				cancel()
				delete(b.relays, client.SubjectID)
			}
		}

		log.Info().
			Str("subjectId", client.SubjectID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, subjectID string, event Event) error {
	if b.redis == nil {
		b.broadcast(subjectID, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(subjectID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, subjectID string) {
	channel := redisclient.SessionChannel(subjectID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("subjectId", subjectID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
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

			b.broadcast(subjectID, event)
		}
	}
}

func (b *Broker) broadcast(subjectID string, event Event) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients[subjectID]))
	for client := range b.clients[subjectID] {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("subjectId", subjectID).
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
	b.relays = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(subjectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[subjectID])
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
