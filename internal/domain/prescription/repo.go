package prescription

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrMessageNotFound is returned when no archived message has the given ID.
var ErrMessageNotFound = errors.New("archived message not found")

// MessageRepository stores generated messages and their delivery outcome.
type MessageRepository interface {
	Create(ctx context.Context, m *ArchivedMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*ArchivedMessage, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, ackCode, ackMessage *string) error
	// List returns messages newest first. An empty prescriptionID matches all.
	List(ctx context.Context, prescriptionID string, limit, offset int) ([]*ArchivedMessage, int, error)
}
