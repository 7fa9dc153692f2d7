package api

import (
	"context"

	"taskboard-api/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of duplicate batch requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// EventFeed publishes confirmed board mutations for the notification service.
type EventFeed interface {
	PublishBoardEvents(ctx context.Context, ownerID string, events []domain.BoardEvent) error
}
