// Package protocol defines the boundary interfaces for external
// collaborators the engine depends on. Implementations are assumed to be
// synchronous and reliable; failures are surfaced as errors for the engine
// to classify.
package protocol

import (
	"context"

	"github.com/marketloop/funneld/pkg/models"
)

// SubscriberService resolves contact snapshots from the contact store.
type SubscriberService interface {
	FindByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	FindByID(ctx context.Context, id string) (*models.Subscriber, error)
}

// TagService manages subscriber tags.
type TagService interface {
	AddTag(ctx context.Context, subscriberID, tag string) error
	RemoveTag(ctx context.Context, subscriberID, tag string) error
}

// MessageService dispatches a stored message (mail or SMS) by its opaque
// message ID.
type MessageService interface {
	Send(ctx context.Context, subscriberID, messageID string) error
}
