package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("registry closed")

type Config struct {
	Driver      string
	Path        string // sqlite
	DSN         string // postgres
	BusyTimeout time.Duration
}

// User is the profile recorded on every contact.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Stats struct {
	TotalUsers       int
	BannedUsers      int
	ActiveUsers      int // TotalUsers - BannedUsers
	TotalConversions int // delivered batches
	TotalFiles       int // delivered files across all batches
}

// Registry persists users, bans and conversion history.
type Registry interface {
	// AddOrTouchUser inserts the user or refreshes profile and activity time.
	// An existing ban flag is preserved.
	AddOrTouchUser(ctx context.Context, u User) error
	IsBanned(ctx context.Context, id int64) (bool, error)
	// Ban and Unban report whether the user exists.
	Ban(ctx context.Context, id int64) (bool, error)
	Unban(ctx context.Context, id int64) (bool, error)
	// ListActiveRecipients returns non-banned user ids in ascending order.
	ListActiveRecipients(ctx context.Context) ([]int64, error)
	RecordConversion(ctx context.Context, id int64, fileCount int) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
