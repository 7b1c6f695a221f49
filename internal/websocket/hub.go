package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// TopicAll subscribes a client to every progress feed.
const TopicAll = "all"

// Hub maintains the set of active clients and broadcasts backup, restore and
// schedule progress messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Topic subscriptions: topic name to the set of subscribed clients.
	subscriptions map[string]map[*Client]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	outbound    chan outbound
}

type subscription struct {
	client *Client
	topic  string
}

type outbound struct {
	topic   string
	message []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		subscribe:     make(chan subscription),
		unsubscribe:   make(chan subscription),
		outbound:      make(chan outbound, 64),
	}
}

// Run starts the Hub's message processing loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			// Every client starts on the firehose; it can narrow later.
			h.addSubscription(client, TopicAll)
			log.Info().Int("total_clients", len(h.clients)).Msg("Admin client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.removeSubscriptions(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Admin client disconnected")
			}
		case sub := <-h.subscribe:
			h.removeSubscriptions(sub.client)
			h.addSubscription(sub.client, sub.topic)
		case sub := <-h.unsubscribe:
			if subs, ok := h.subscriptions[sub.topic]; ok {
				delete(subs, sub.client)
			}
			h.addSubscription(sub.client, TopicAll)
		case out := <-h.outbound:
			h.deliver(out.topic, out.message)
		}
	}
}

// Publish sends a progress message to clients subscribed to the topic (and
// to the firehose). Implements the services.Notifier contract.
func (h *Hub) Publish(topic, action string, payload interface{}) {
	message, err := json.Marshal(Message{Action: action, Topic: topic, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to encode websocket message")
		return
	}
	h.outbound <- outbound{topic: topic, message: message}
}

// Subscribe narrows a client to one topic.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.subscribe <- subscription{client: client, topic: topic}
}

// Unsubscribe returns a client to the firehose.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.unsubscribe <- subscription{client: client, topic: topic}
}

func (h *Hub) deliver(topic string, message []byte) {
	targets := make(map[*Client]bool)
	for client := range h.subscriptions[topic] {
		targets[client] = true
	}
	for client := range h.subscriptions[TopicAll] {
		targets[client] = true
	}
	for client := range targets {
		select {
		case client.Send <- message:
		default:
			close(client.Send)
			delete(h.clients, client)
			h.removeSubscriptions(client)
		}
	}
}

func (h *Hub) addSubscription(client *Client, topic string) {
	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][client] = true
}

func (h *Hub) removeSubscriptions(client *Client) {
	for topic, subs := range h.subscriptions {
		if _, ok := subs[client]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, topic)
			}
		}
	}
}
