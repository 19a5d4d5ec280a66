package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newContext(t *testing.T, userID int64) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return bot.NewContext(tele.Update{
		ID: 1,
		Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   "hello",
		},
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Unix(1000, 0)
	var limited, handled int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Now:       func() time.Time { return now },
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	c := newContext(t, 42)
	require.NoError(t, h(c))
	require.NoError(t, h(c))
	now = now.Add(2 * time.Second)
	require.NoError(t, h(c))

	assert.Equal(t, 2, handled)
	assert.Equal(t, 1, limited)
}

func TestRateLimitExclusion(t *testing.T) {
	var handled int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	h := mw(func(tele.Context) error { handled++; return nil })
	c := newContext(t, 7)
	_ = h(c)
	_ = h(c)
	assert.Equal(t, 2, handled)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	var rejected bool
	mw := AdminOnlyMiddleware(AdminOptions{
		IsAdmin:  func(id int64) bool { return id == 1 },
		OnReject: func(tele.Context) error { rejected = true; return nil },
	})
	called := false
	h := mw(func(tele.Context) error { called = true; return nil })

	require.NoError(t, h(newContext(t, 2)))
	assert.False(t, called)
	assert.True(t, rejected)

	require.NoError(t, h(newContext(t, 1)))
	assert.True(t, called)
}

func TestAccessMiddlewareTreatsErrorsAsRejection(t *testing.T) {
	called := false
	mw := AccessMiddleware(AccessOptions{
		Allowed: func(context.Context, int64) (bool, error) { return false, errors.New("db down") },
	})
	h := mw(func(tele.Context) error { called = true; return nil })
	require.NoError(t, h(newContext(t, 5)))
	assert.False(t, called)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newContext(t, 3))
	assert.ErrorContains(t, err, "boom")
}
