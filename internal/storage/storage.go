// Package storage persists flow state, accounts, bot users and settings.
// Postgres implementations live here; memstore holds the in-memory ones.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/m3rciful/receiverbot/internal/domain"
)

var (
	// ErrStepNotFound is returned when a user has no step record.
	ErrStepNotFound = errors.New("storage: step not found")
	// ErrAccountExists is returned when the phone number is already provisioned.
	ErrAccountExists = errors.New("storage: account already exists")
	// ErrAccountNotFound is returned when no account matches.
	ErrAccountNotFound = errors.New("storage: account not found")
	// ErrAlreadyClaimed is returned when an account was handed out before.
	ErrAlreadyClaimed = errors.New("storage: account already claimed")
	// ErrUserNotFound is returned for unknown bot users.
	ErrUserNotFound = errors.New("storage: user not found")
)

// StepRepo stores one step record per user.
type StepRepo interface {
	Get(ctx context.Context, userID int64) (domain.StepRecord, error)
	// Replace deletes any record for the user and writes rec atomically.
	Replace(ctx context.Context, rec domain.StepRecord) error
	// Remove is a no-op when the user has no record.
	Remove(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]domain.StepRecord, error)
}

// AccountRepo stores provisioned accounts.
type AccountRepo interface {
	Create(ctx context.Context, rec domain.AccountRecord) error
	Exists(ctx context.Context, countryCode, national string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (domain.AccountRecord, error)
	// MarkClaimed moves a provisioned account owned by ownerID to claimed.
	MarkClaimed(ctx context.Context, id uuid.UUID, ownerID int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.AccountRecord, error)
	CountByOwner(ctx context.Context, ownerID int64) (domain.AccountCounts, error)
	Count(ctx context.Context) (domain.AccountCounts, error)
}

// UserRepo stores bot users and their access flag.
type UserRepo interface {
	// Register inserts the user with allowed unless it exists. created
	// reports whether a row was written.
	Register(ctx context.Context, userID int64, allowed bool) (u domain.ChatUser, created bool, err error)
	Get(ctx context.Context, userID int64) (domain.ChatUser, error)
	SetAllowed(ctx context.Context, userID int64, allowed bool) error
	Count(ctx context.Context) (int, error)
}

// SettingsRepo stores the runtime policy toggles.
type SettingsRepo interface {
	Policy(ctx context.Context) (domain.Policy, error)
	Set(ctx context.Context, key string, value bool) error
	// Seed writes defaults for keys that are not stored yet.
	Seed(ctx context.Context, defaults domain.Policy) error
}

// Stores groups the repositories the bot runs on.
type Stores struct {
	Steps    StepRepo
	Accounts AccountRepo
	Users    UserRepo
	Settings SettingsRepo
}
