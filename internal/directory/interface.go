package directory

import (
	"context"
	"errors"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is the display info shown next to a conversation.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// ProfileDirectory resolves identities to display info. The platform's user
// database owns the data; this service only reads it.
type ProfileDirectory interface {
	Get(ctx context.Context, id string) (*Profile, error)
	GetBatch(ctx context.Context, ids []string) (map[string]Profile, error)
	Close() error
}
