// Package broadcast fans frames out to topic subscribers. Topics are cheap
// strings: one per game, one per eval stream, plus the lobby and live lists.
// Delivery is best-effort; a subscriber that cannot accept a frame is logged
// and skipped, never retried.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

// Topic names.
const (
	TopicLobby = "lobby"
	TopicLive  = "live"
)

// GameTopic returns the topic carrying state and offers for one game.
func GameTopic(gameID string) string {
	return "game:" + gameID
}

// EvalTopic returns the topic carrying evaluation updates for one game.
func EvalTopic(gameID string) string {
	return "eval:" + gameID
}

// Subscriber receives frames from topics it subscribed to. Send must queue
// without blocking the hub; dropping on a full queue is the subscriber's
// decision.
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

type entry struct {
	sub Subscriber
	// playerID tags game-topic subscribers with their seat; 0 marks
	// spectators and every subscriber on non-game topics.
	playerID int
}

// Hub owns the subscriber sets. All methods are safe for concurrent use;
// fan-out iterates a snapshot so subscribers may unsubscribe mid-broadcast.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]entry
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[string]entry),
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe adds sub to a topic. playerID tags the subscription for
// player-targeted fan-outs; pass 0 for spectators and plain streams.
// Re-subscribing under the same ID replaces the previous entry.
func (h *Hub) Subscribe(topic string, sub Subscriber, playerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]entry)
		h.topics[topic] = subs
	}
	subs[sub.ID()] = entry{sub: sub, playerID: playerID}
}

// Unsubscribe removes one subscription. Removing the last subscriber drops
// the topic entirely.
func (h *Hub) Unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// UnsubscribeAll removes the subscriber from every topic, used on socket
// close.
func (h *Hub) UnsubscribeAll(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Count returns the number of subscribers on a topic.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish encodes v once and sends it to every subscriber of the topic.
func (h *Hub) Publish(topic string, v any) {
	h.publish(topic, v, func(entry) bool { return true })
}

// PublishToPlayer sends only to subscriptions tagged with the given player
// ID, skipping the sender and all spectators. Used for private offers.
func (h *Hub) PublishToPlayer(topic string, playerID int, v any) {
	h.publish(topic, v, func(e entry) bool { return e.playerID == playerID })
}

// PublishExcept sends to everyone on the topic except the named subscriber.
func (h *Hub) PublishExcept(topic, exceptID string, v any) {
	h.publish(topic, v, func(e entry) bool { return e.sub.ID() != exceptID })
}

func (h *Hub) publish(topic string, v any, include func(entry) bool) {
	data, err := protocol.Encode(v)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	snapshot := make([]entry, 0, len(h.topics[topic]))
	for _, e := range h.topics[topic] {
		if include(e) {
			snapshot = append(snapshot, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range snapshot {
		if err := e.sub.Send(data); err != nil {
			h.logger.Debug().
				Err(err).
				Str("topic", topic).
				Str("subscriber", e.sub.ID()).
				Msg("dropping frame for subscriber")
		}
	}
}
