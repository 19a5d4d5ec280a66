// Package memstore implements the storage repositories in process memory for
// development runs without a database and for tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/storage"
)

// New returns a fresh set of in-memory stores.
func New() storage.Stores {
	return storage.Stores{
		Steps:    NewSteps(),
		Accounts: NewAccounts(),
		Users:    NewUsers(),
		Settings: NewSettings(),
	}
}

// Steps is an in-memory StepRepo.
type Steps struct {
	mu    sync.RWMutex
	steps map[int64]domain.StepRecord
}

// NewSteps returns an empty step store.
func NewSteps() *Steps {
	return &Steps{steps: make(map[int64]domain.StepRecord)}
}

func (s *Steps) Get(_ context.Context, userID int64) (domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.steps[userID]
	if !ok {
		return domain.StepRecord{}, storage.ErrStepNotFound
	}
	return rec, nil
}

func (s *Steps) Replace(_ context.Context, rec domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[rec.UserID] = rec
	return nil
}

func (s *Steps) Remove(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, userID)
	return nil
}

func (s *Steps) List(context.Context) ([]domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StepRecord, 0, len(s.steps))
	for _, rec := range s.steps {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// Accounts is an in-memory AccountRepo.
type Accounts struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.AccountRecord
	byPhone map[string]uuid.UUID
}

// NewAccounts returns an empty account store.
func NewAccounts() *Accounts {
	return &Accounts{
		byID:    make(map[uuid.UUID]domain.AccountRecord),
		byPhone: make(map[string]uuid.UUID),
	}
}

func phoneKey(cc, national string) string { return cc + "|" + national }

func (a *Accounts) Create(_ context.Context, rec domain.AccountRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := phoneKey(rec.CountryCode, rec.National)
	if _, ok := a.byPhone[key]; ok {
		return storage.ErrAccountExists
	}
	if _, ok := a.byID[rec.ID]; ok {
		return fmt.Errorf("duplicate account id %s", rec.ID)
	}
	a.byID[rec.ID] = rec
	a.byPhone[key] = rec.ID
	return nil
}

func (a *Accounts) Exists(_ context.Context, cc, national string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byPhone[phoneKey(cc, national)]
	return ok, nil
}

func (a *Accounts) Get(_ context.Context, id uuid.UUID) (domain.AccountRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[id]
	if !ok {
		return domain.AccountRecord{}, storage.ErrAccountNotFound
	}
	return rec, nil
}

func (a *Accounts) MarkClaimed(_ context.Context, id uuid.UUID, ownerID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[id]
	if !ok || rec.OwnerID != ownerID {
		return storage.ErrAccountNotFound
	}
	if rec.Status == domain.AccountClaimed {
		return storage.ErrAlreadyClaimed
	}
	rec.Status = domain.AccountClaimed
	a.byID[id] = rec
	return nil
}

func (a *Accounts) ListByOwner(_ context.Context, ownerID int64) ([]domain.AccountRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []domain.AccountRecord
	for _, rec := range a.byID {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredOn.After(out[j].RegisteredOn) })
	return out, nil
}

func (a *Accounts) count(match func(domain.AccountRecord) bool) domain.AccountCounts {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var c domain.AccountCounts
	for _, rec := range a.byID {
		if !match(rec) {
			continue
		}
		switch rec.Status {
		case domain.AccountProvisioned:
			c.Provisioned++
		case domain.AccountClaimed:
			c.Claimed++
		}
	}
	return c
}

func (a *Accounts) CountByOwner(_ context.Context, ownerID int64) (domain.AccountCounts, error) {
	return a.count(func(r domain.AccountRecord) bool { return r.OwnerID == ownerID }), nil
}

func (a *Accounts) Count(context.Context) (domain.AccountCounts, error) {
	return a.count(func(domain.AccountRecord) bool { return true }), nil
}

// Users is an in-memory UserRepo.
type Users struct {
	mu    sync.RWMutex
	users map[int64]domain.ChatUser
	now   func() time.Time
}

// NewUsers returns an empty user store.
func NewUsers() *Users {
	return &Users{users: make(map[int64]domain.ChatUser), now: time.Now}
}

func (u *Users) Register(_ context.Context, userID int64, allowed bool) (domain.ChatUser, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if existing, ok := u.users[userID]; ok {
		return existing, false, nil
	}
	user := domain.ChatUser{UserID: userID, Allowed: allowed, CreatedAt: u.now()}
	u.users[userID] = user
	return user, true, nil
}

func (u *Users) Get(_ context.Context, userID int64) (domain.ChatUser, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[userID]
	if !ok {
		return domain.ChatUser{}, storage.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) SetAllowed(_ context.Context, userID int64, allowed bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	user.Allowed = allowed
	u.users[userID] = user
	return nil
}

func (u *Users) Count(context.Context) (int, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.users), nil
}

// Settings is an in-memory SettingsRepo.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettings returns an empty settings store.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]string)}
}

func (s *Settings) Policy(context.Context) (domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storage.PolicyFromValues(s.values), nil
}

func (s *Settings) Set(_ context.Context, key string, value bool) error {
	if !storage.KnownSetting(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = strconv.FormatBool(value)
	return nil
}

func (s *Settings) Seed(_ context.Context, defaults domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range storage.PolicyValues(defaults) {
		if _, ok := s.values[k]; !ok {
			s.values[k] = v
		}
	}
	return nil
}
