// Package publisher defines the completion-event publishing contract.
package publisher

import "context"

// Publisher pushes task completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// NoOp discards events; used when no topic is configured.
type NoOp struct{}

// Publish does nothing and returns an empty id.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }
