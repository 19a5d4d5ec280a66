package mtproto

import (
	"context"
	"testing"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/receiverbot/internal/provider"
)

type fakeAuth struct {
	sent        tg.AuthSentCodeClass
	sendErr     error
	signInErr   error
	passwordErr error

	phone, code, hash string
	passwords         []string
	current           string
	updated           string
}

func (f *fakeAuth) SendCode(_ context.Context, phone string, _ auth.SendCodeOptions) (tg.AuthSentCodeClass, error) {
	f.phone = phone
	return f.sent, f.sendErr
}

func (f *fakeAuth) SignIn(_ context.Context, phone, code, hash string) (*tg.AuthAuthorization, error) {
	f.phone, f.code, f.hash = phone, code, hash
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &tg.AuthAuthorization{}, nil
}

func (f *fakeAuth) Password(_ context.Context, password string) (*tg.AuthAuthorization, error) {
	f.passwords = append(f.passwords, password)
	if f.passwordErr != nil {
		return nil, f.passwordErr
	}
	return &tg.AuthAuthorization{}, nil
}

func (f *fakeAuth) UpdatePassword(ctx context.Context, newPassword string, opts auth.UpdatePasswordOptions) error {
	cur, err := opts.Password(ctx)
	if err != nil {
		return err
	}
	f.current, f.updated = cur, newPassword
	return nil
}

func newTestClient(a *fakeAuth) *Client {
	return &Client{auth: a}
}

func TestSubmitChallengeWithPassword(t *testing.T) {
	ctx := context.Background()
	a := &fakeAuth{
		sent:      &tg.AuthSentCode{PhoneCodeHash: "h1"},
		signInErr: auth.ErrPasswordAuthNeeded,
	}
	c := newTestClient(a)

	ch, err := c.SubmitChallenge(ctx, "+15551234")
	require.NoError(t, err)
	assert.Equal(t, provider.ChallengeCode, ch)
	assert.Equal(t, stageCode, c.stage)

	ch, err = c.SubmitChallenge(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, provider.ChallengePassword, ch)
	assert.Equal(t, "+15551234", a.phone)
	assert.Equal(t, "h1", a.hash)

	ch, err = c.SubmitChallenge(ctx, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, provider.ChallengeNone, ch)
	assert.Equal(t, stageDone, c.stage)
	assert.Equal(t, "hunter2", c.password)

	_, err = c.SubmitChallenge(ctx, "again")
	assert.ErrorContains(t, err, "already signed in")
}

func TestSubmitChallengeWithoutPassword(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(&fakeAuth{sent: &tg.AuthSentCode{PhoneCodeHash: "h"}})

	_, err := c.SubmitChallenge(ctx, "+15551234")
	require.NoError(t, err)
	ch, err := c.SubmitChallenge(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, provider.ChallengeNone, ch)
	assert.Equal(t, stageDone, c.stage)
	assert.Empty(t, c.password)
}

func TestSubmitChallengeAlreadyAuthorized(t *testing.T) {
	c := newTestClient(&fakeAuth{sent: &tg.AuthSentCodeSuccess{}})
	ch, err := c.SubmitChallenge(context.Background(), "+15551234")
	require.NoError(t, err)
	assert.Equal(t, provider.ChallengeNone, ch)
	assert.Equal(t, stageDone, c.stage)
}

func TestSubmitChallengeErrors(t *testing.T) {
	ctx := context.Background()

	c := newTestClient(&fakeAuth{sendErr: tgerr.New(400, "PHONE_NUMBER_BANNED")})
	_, err := c.SubmitChallenge(ctx, "+15551234")
	assert.Equal(t, provider.ClassBanned, provider.ClassOf(err))
	assert.Equal(t, stagePhone, c.stage)

	c = newTestClient(&fakeAuth{sent: &tg.AuthSentCode{PhoneCodeHash: "h"}, signInErr: &auth.SignUpRequired{}})
	_, err = c.SubmitChallenge(ctx, "+15551234")
	require.NoError(t, err)
	_, err = c.SubmitChallenge(ctx, "12345")
	assert.Equal(t, provider.ClassInvalidInput, provider.ClassOf(err))

	c = newTestClient(&fakeAuth{
		sent:        &tg.AuthSentCode{PhoneCodeHash: "h"},
		signInErr:   auth.ErrPasswordAuthNeeded,
		passwordErr: tgerr.New(400, "PASSWORD_HASH_INVALID"),
	})
	_, _ = c.SubmitChallenge(ctx, "+15551234")
	_, _ = c.SubmitChallenge(ctx, "12345")
	_, err = c.SubmitChallenge(ctx, "wrong")
	assert.Equal(t, provider.ClassInvalidInput, provider.ClassOf(err))
	assert.Equal(t, stagePassword, c.stage, "a wrong password can be retried")
}

func TestEnableSecondaryPasswordRotatesLoginPassword(t *testing.T) {
	ctx := context.Background()
	a := &fakeAuth{sent: &tg.AuthSentCode{PhoneCodeHash: "h"}, signInErr: auth.ErrPasswordAuthNeeded}
	c := newTestClient(a)
	_, _ = c.SubmitChallenge(ctx, "+15551234")
	_, _ = c.SubmitChallenge(ctx, "12345")
	_, err := c.SubmitChallenge(ctx, "old")
	require.NoError(t, err)

	require.NoError(t, c.EnableSecondaryPassword(ctx, "new", "hint"))
	assert.Equal(t, "old", a.current)
	assert.Equal(t, "new", a.updated)
	assert.Equal(t, "new", c.password)
}

func TestEnableSecondaryPasswordWithoutLoginPassword(t *testing.T) {
	err := newTestClient(&fakeAuth{}).EnableSecondaryPassword(context.Background(), "new", "")
	assert.ErrorContains(t, err, "current password unknown")
}

const spamBotID int64 = 178220800

func incoming(text string) *tg.Message {
	return &tg.Message{Message: text, PeerID: &tg.PeerUser{UserID: spamBotID}}
}

func TestBotReply(t *testing.T) {
	start := &tg.Message{Out: true, Message: "/start", PeerID: &tg.PeerUser{UserID: spamBotID}}
	stranger := &tg.Message{Message: "hi", PeerID: &tg.PeerUser{UserID: 1}, FromID: &tg.PeerUser{UserID: 1}}

	cases := map[string]struct {
		history tg.MessagesMessagesClass
		text    string
		ok      bool
	}{
		"only outgoing start": {
			history: &tg.MessagesMessages{Messages: []tg.MessageClass{start}},
		},
		"answer after start": {
			history: &tg.MessagesMessages{Messages: []tg.MessageClass{incoming("Good news, no limits are currently applied."), start}},
			text:    "Good news, no limits are currently applied.",
			ok:      true,
		},
		"old answer before start": {
			history: &tg.MessagesMessagesSlice{Messages: []tg.MessageClass{start, incoming("stale")}},
		},
		"other sender is ignored": {
			history: &tg.MessagesMessages{Messages: []tg.MessageClass{stranger, start}},
		},
		"empty history": {
			history: &tg.MessagesMessagesNotModified{},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			text, ok := botReply(tc.history, spamBotID)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.text, text)
		})
	}
}

func TestBotReplyMatchesFromID(t *testing.T) {
	msg := &tg.Message{Message: "limited", PeerID: &tg.PeerUser{UserID: 9}}
	msg.SetFromID(&tg.PeerUser{UserID: spamBotID})
	text, ok := botReply(&tg.MessagesMessages{Messages: []tg.MessageClass{msg}}, spamBotID)
	assert.True(t, ok)
	assert.Equal(t, "limited", text)
}

func TestLimitedReply(t *testing.T) {
	assert.False(t, limitedReply("Good news, NO LIMITS are currently applied to your account."))
	assert.True(t, limitedReply("I'm afraid some Telegram users found your messages annoying"))
}

func TestCheckReportStatusNeedsConnection(t *testing.T) {
	_, err := (&Client{}).CheckReportStatus(context.Background())
	assert.ErrorContains(t, err, "not connected")
}
