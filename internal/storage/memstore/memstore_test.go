package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/storage"
)

func TestStepsAtMostOnePerUser(t *testing.T) {
	ctx := context.Background()
	s := NewSteps()
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := domain.StepLoginCode
			if i%2 == 0 {
				kind = domain.StepPassword2FA
			}
			_ = s.Replace(ctx, domain.StepRecord{UserID: 42, Kind: kind, ExpiresAt: base.Add(time.Duration(i) * time.Second)})
		}(i)
	}
	wg.Wait()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Remove(ctx, 42))
	_, err = s.Get(ctx, 42)
	assert.ErrorIs(t, err, storage.ErrStepNotFound)
	require.NoError(t, s.Remove(ctx, 42))
}

func TestAccountsUniquePhoneUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts()

	var wg sync.WaitGroup
	var created, dup atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Create(ctx, domain.AccountRecord{ID: uuid.New(), CountryCode: "+1", National: "5551234", Status: domain.AccountProvisioned})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, storage.ErrAccountExists):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, 15, dup.Load())

	ok, err := a.Exists(ctx, "+1", "5551234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccountsClaimOnce(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts()
	id := uuid.New()
	require.NoError(t, a.Create(ctx, domain.AccountRecord{ID: id, CountryCode: "+1", National: "5550000", OwnerID: 7, Status: domain.AccountProvisioned}))

	assert.ErrorIs(t, a.MarkClaimed(ctx, id, 8), storage.ErrAccountNotFound)
	require.NoError(t, a.MarkClaimed(ctx, id, 7))
	assert.ErrorIs(t, a.MarkClaimed(ctx, id, 7), storage.ErrAlreadyClaimed)

	counts, err := a.CountByOwner(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountCounts{Claimed: 1}, counts)
}

func TestUsersRegister(t *testing.T) {
	ctx := context.Background()
	u := NewUsers()
	_, created, err := u.Register(ctx, 1, false)
	require.NoError(t, err)
	assert.True(t, created)

	got, created, err := u.Register(ctx, 1, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, got.Allowed)

	require.NoError(t, u.SetAllowed(ctx, 1, true))
	got, err = u.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Allowed)
	assert.ErrorIs(t, u.SetAllowed(ctx, 2, true), storage.ErrUserNotFound)
}

func TestSettingsSeedKeepsStoredValues(t *testing.T) {
	ctx := context.Background()
	s := NewSettings()
	require.NoError(t, s.Set(ctx, storage.KeyUseProxy, true))
	require.NoError(t, s.Seed(ctx, domain.Policy{UseProxy: false, UseChangeBio: true}))

	p, err := s.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Policy{UseProxy: true, UseChangeBio: true}, p)
	assert.Error(t, s.Set(ctx, "nope", true))
}
