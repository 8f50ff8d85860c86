// Package events publishes account lifecycle events (logins, logouts,
// password recovery) to the configured message broker. The password
// recovery events carry what a mailer needs to reach the user.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/railbook/apiserver/internal/mq"
)

type Type string

const (
	TypeUserRegistered         Type = "user_registered"
	TypeLoggedIn               Type = "logged_in"
	TypeLoggedOut              Type = "logged_out"
	TypePasswordResetRequested Type = "password_reset_requested"
	TypePasswordResetCompleted Type = "password_reset_completed"
)

// Event is the JSON body of every published message.
type Event struct {
	Type       Type      `json:"type"`
	UserID     int64     `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	ResetToken string    `json:"reset_token,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// BrokerPublisher encodes events as JSON and sends them on one channel.
type BrokerPublisher struct {
	backend mq.Backend
	channel string
}

func NewBrokerPublisher(backend mq.Backend, channel string) *BrokerPublisher {
	return &BrokerPublisher{backend: backend, channel: channel}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	attrs := map[string]string{
		"type":         string(event.Type),
		"user_id":      strconv.FormatInt(event.UserID, 10),
		"content_type": "application/json",
	}
	if _, err := p.backend.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Decode parses a message produced by BrokerPublisher.
func Decode(msg mq.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	return event, nil
}
