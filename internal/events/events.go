package events

import (
	"encoding/json"
	"sync"
	"time"

	"hotelbook/internal/models"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
)

// BookingEventPayload describes the booking snapshot handed to event consumers.
type BookingEventPayload struct {
	BookingID    string     `json:"booking_id"`
	Reference    string     `json:"booking_reference"`
	UserID       string     `json:"user_id"`
	PropertyID   string     `json:"property_id"`
	RoomTypeID   string     `json:"room_type_id"`
	CheckIn      string     `json:"check_in"`
	CheckOut     string     `json:"check_out"`
	Nights       int        `json:"nights"`
	Rooms        int        `json:"rooms"`
	Guests       int        `json:"guests"`
	GuestName    string     `json:"guest_name"`
	GuestEmail   string     `json:"guest_email"`
	Status       string     `json:"status"`
	TotalAmount  float64    `json:"total_amount"`
	Currency     string     `json:"currency"`
	RefundAmount *float64   `json:"refund_amount,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// NewBookingEventPayload snapshots a booking at the moment of the change.
func NewBookingEventPayload(b *models.Booking, occurredAt time.Time) BookingEventPayload {
	return BookingEventPayload{
		BookingID:    b.ID,
		Reference:    b.Reference,
		UserID:       b.UserID,
		PropertyID:   b.PropertyID,
		RoomTypeID:   b.RoomTypeID,
		CheckIn:      b.CheckIn.Format(models.DateLayout),
		CheckOut:     b.CheckOut.Format(models.DateLayout),
		Nights:       b.Nights,
		Rooms:        b.Rooms,
		Guests:       b.TotalGuests(),
		GuestName:    b.Guest.FullName(),
		GuestEmail:   b.Guest.Email,
		Status:       b.Status,
		TotalAmount:  b.TotalAmount,
		Currency:     b.Currency,
		RefundAmount: b.RefundAmount,
		CancelledAt:  b.CancelledAt,
		OccurredAt:   occurredAt,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
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

// Publish notifies subscribers of the event type. Handlers run synchronously.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
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
