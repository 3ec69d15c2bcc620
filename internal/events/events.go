package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventExportEnqueued     = "export_enqueued"
	EventExportStarted      = "export_started"
	EventExportSucceeded    = "export_succeeded"
	EventExportFailed       = "export_failed"
	EventExportDeadLettered = "export_dead_lettered"
)

// ExportEventPayload is the attempt snapshot shared with event consumers.
type ExportEventPayload struct {
	ExportID   string  `json:"export_id"`
	AdminEmail string  `json:"admin_email"`
	Attempt    int     `json:"attempt"`
	StorageKey string  `json:"storage_key,omitempty"`
	Rows       int     `json:"rows,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Error      string  `json:"error,omitempty"`
	Duration   float64 `json:"duration_seconds,omitempty"`
}

// Event is a published lifecycle notification.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. Handlers run synchronously in
// subscription order.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish delivers the event to every subscriber and returns their joined
// errors. A failing handler does not stop the others.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}
