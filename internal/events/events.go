// Package events broadcasts task lifecycle notifications to external
// listeners. Delivery is fire-and-forget: a failing or slow sink never fails
// or delays the operation that produced the event.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

const (
	TypeClaimed       Type = "task.claimed"
	TypeStarted       Type = "task.started"
	TypeCompleted     Type = "task.completed"
	TypeUnblocked     Type = "task.unblocked"
	TypeReviewFlagged Type = "task.review_flagged"
	TypeClaimRejected Type = "claim.rejected"
)

// Event is one notification.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	TaskID    string    `json:"taskId"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Unblocked []string  `json:"unblocked,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// New builds an event with a fresh id.
func New(typ Type, taskID, agent string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		TaskID:    taskID,
		Agent:     agent,
		Timestamp: at.UTC(),
	}
}

// ErrClosed is returned when publishing to a closed sink.
var ErrClosed = errors.New("sink closed")

// Sink delivers events somewhere.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Multi fans events out to every sink. All sinks are tried; errors are
// joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
