package types

import "time"

// Cache lifecycle events published through the event dispatcher.
const (
	EventWrite   = "cache.write"
	EventHit     = "cache.hit"
	EventMiss    = "cache.miss"
	EventExpired = "cache.expired"
	EventInvalid = "cache.invalid"
	EventEvicted = "cache.evicted"
	EventCleared = "cache.cleared"
)

type EventMessage struct {
	Event     string      `json:"event"`
	Key       string      `json:"key,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	MessageID string      `json:"message_id"`
}

type EventHandler func(message *EventMessage)

type EventBroker interface {
	LifecycleManager
	Publish(event string, key string, payload interface{}) error
	Subscribe(event string, handler EventHandler) error
}

type EventBrokerCreator func(config interface{}) (EventBroker, error)
