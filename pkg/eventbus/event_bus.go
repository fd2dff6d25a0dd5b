// Package eventbus provides event-driven notification infrastructure for
// execution and schedule lifecycle events.
package eventbus

import (
	"context"

	"github.com/veloflow/veloflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	Publish(ctx context.Context, key string, event Event) error
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
	Close() error
	GenerateID() string
}
