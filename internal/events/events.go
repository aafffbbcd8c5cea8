package events

import (
	"sync"
	"time"

	"vehirec/internal/models"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	EventModelTrained            = "model_trained"
	EventRecommendationsServed   = "recommendations_served"
	EventRecommendationsExported = "recommendations_exported"
)

// ModelTrainedPayload is published after a bundle was saved.
type ModelTrainedPayload struct {
	RunID          string    `json:"run_id"`
	Ranker         string    `json:"ranker"`
	Version        int       `json:"version"`
	Examples       int       `json:"examples"`
	Shortfall      int       `json:"shortfall"`
	ValidationLoss float64   `json:"validation_loss"`
	TrainedAt      time.Time `json:"trained_at"`
}

// RecommendationsPayload describes a list that was served or exported.
type RecommendationsPayload struct {
	ClientID     int64     `json:"client_id"`
	ModelVersion int       `json:"model_version"`
	VehicleIDs   []int64   `json:"vehicle_ids"`
	Scores       []float64 `json:"scores"`
	Path         string    `json:"path,omitempty"`
	Cached       bool      `json:"cached,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// List is set for exports so subscribers can mirror the full rows.
	List *models.RecommendationList `json:"list,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged, never returned to publishers.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: l}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, synchronously and in subscription order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
