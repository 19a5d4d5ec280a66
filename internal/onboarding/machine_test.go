package onboarding

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/receiverbot/internal/artifact"
	"github.com/m3rciful/receiverbot/internal/device"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
	"github.com/m3rciful/receiverbot/internal/session"
	"github.com/m3rciful/receiverbot/internal/storage"
	"github.com/m3rciful/receiverbot/internal/storage/memstore"
	"github.com/m3rciful/receiverbot/internal/sweeper"
)

const user int64 = 100

type harness struct {
	m         *Machine
	steps     *memstore.Steps
	accounts  *memstore.Accounts
	sessions  *session.Cache
	artifacts *artifact.Store
	factory   *fakeFactory
	now       time.Time
}

func newHarness(t *testing.T, policy domain.Policy, script map[string]submitResult) *harness {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		steps:     memstore.NewSteps(),
		accounts:  memstore.NewAccounts(),
		sessions:  session.NewCache(),
		artifacts: store,
		now:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h.factory = &fakeFactory{next: func() *fakeClient { return &fakeClient{script: script} }}

	h.m, err = New(Deps{
		Steps:     h.steps,
		Accounts:  h.accounts,
		Sessions:  h.sessions,
		Proxies:   fixedProxy{d: domain.ProxyDescriptor{Host: "10.0.0.3", Port: 1080}, ok: true},
		Devices:   device.NewPool([]domain.DeviceFingerprint{{Model: "Pixel 7", SystemVersion: "Android 14", AppVersion: "10.9.1"}}),
		Policy:    staticPolicy(policy),
		Artifacts: store,
		Factory:   h.factory.Build,
	}, Options{
		StepTTL:     5 * time.Minute,
		Password2FA: "s3cret",
		Bio:         "hello",
		Now:         func() time.Time { return h.now },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) handle(t *testing.T, input string) Reply {
	t.Helper()
	r, err := h.m.Handle(context.Background(), user, input)
	require.NoError(t, err)
	return r
}

func (h *harness) step(t *testing.T) (domain.StepRecord, bool) {
	t.Helper()
	rec, err := h.steps.Get(context.Background(), user)
	if errors.Is(err, storage.ErrStepNotFound) {
		return domain.StepRecord{}, false
	}
	require.NoError(t, err)
	return rec, true
}

var happyScript = map[string]submitResult{
	"+15551234": {challenge: provider.ChallengeCode},
	"12345":     {challenge: provider.ChallengeNone},
}

func TestHappyPathProvisionsAccount(t *testing.T) {
	h := newHarness(t, domain.Policy{UseProxy: true, UseChangeBio: true, UseCheckReport: true}, happyScript)

	r := h.handle(t, "+15551234")
	assert.Equal(t, OutcomeCodeSent, r.Outcome)
	rec, ok := h.step(t)
	require.True(t, ok)
	assert.Equal(t, domain.StepLoginCode, rec.Kind)
	assert.Equal(t, h.now.Add(5*time.Minute), rec.ExpiresAt)
	assert.True(t, h.sessions.Contains(user))
	require.NotNil(t, h.factory.last().proxy)
	assert.Equal(t, "10.0.0.3", h.factory.last().proxy.Host)

	r = h.handle(t, "12345")
	require.Equal(t, OutcomeSuccess, r.Outcome)
	assert.NotEqual(t, [16]byte{}, [16]byte(r.AccountID))

	_, ok = h.step(t)
	assert.False(t, ok)
	assert.False(t, h.sessions.Contains(user))

	acc, err := h.accounts.Get(context.Background(), r.AccountID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountProvisioned, acc.Status)
	assert.Equal(t, "+1", acc.CountryCode)
	assert.Equal(t, "5551234", acc.National)
	assert.Equal(t, user, acc.OwnerID)
	assert.Equal(t, "Pixel 7", acc.Model)

	c := h.factory.last()
	assert.Equal(t, []string{"connect", "no_events", "online", "report", "bio", "password.enable", "offline"}, c.calls)
	assert.Equal(t, 1, c.disconnects)
	assert.True(t, h.artifacts.Exists("+15551234"), "credential file is kept")
}

func TestTransientCodeFailureKeepsSession(t *testing.T) {
	script := map[string]submitResult{
		"+15551234": {challenge: provider.ChallengeCode},
		"99999":     {err: provider.Wrap(provider.ClassTransient, "", context.DeadlineExceeded)},
	}
	h := newHarness(t, domain.Policy{}, script)

	require.Equal(t, OutcomeCodeSent, h.handle(t, "+15551234").Outcome)
	before, _ := h.step(t)
	sessBefore, _ := h.sessions.Get(user)

	h.now = h.now.Add(time.Minute)
	assert.Equal(t, OutcomeRetryLater, h.handle(t, "99999").Outcome)

	after, ok := h.step(t)
	require.True(t, ok)
	assert.Equal(t, domain.StepLoginCode, after.Kind)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
	sessAfter, ok := h.sessions.Get(user)
	require.True(t, ok)
	assert.Same(t, sessBefore, sessAfter)
	assert.Zero(t, h.factory.last().disconnects)
}

func TestTransientPasswordFailureKeepsSession(t *testing.T) {
	script := map[string]submitResult{
		"+15551234": {challenge: provider.ChallengeCode},
		"12345":     {challenge: provider.ChallengePassword},
		"flaky":     {err: provider.Wrap(provider.ClassTransient, "", errors.New("i/o timeout"))},
		"right":     {challenge: provider.ChallengeNone},
	}
	h := newHarness(t, domain.Policy{}, script)

	h.handle(t, "+15551234")
	assert.Equal(t, OutcomePasswordRequired, h.handle(t, "12345").Outcome)
	before, _ := h.step(t)
	assert.Equal(t, domain.StepPassword2FA, before.Kind)
	sessBefore, _ := h.sessions.Get(user)

	h.now = h.now.Add(30 * time.Second)
	assert.Equal(t, OutcomeRetryLater, h.handle(t, "flaky").Outcome)
	after, _ := h.step(t)
	assert.Equal(t, domain.StepPassword2FA, after.Kind)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
	sessAfter, _ := h.sessions.Get(user)
	assert.Same(t, sessBefore, sessAfter)

	assert.Equal(t, OutcomePasswordRetry, h.handle(t, "wrong").Outcome)
	assert.Equal(t, OutcomeSuccess, h.handle(t, "right").Outcome)
	calls := h.factory.last().calls
	assert.NotContains(t, calls, "password.disable")
	assert.Equal(t, 1, countOf(calls, "password.enable"))
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestInvalidPhoneCreatesNothing(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	assert.Equal(t, OutcomeInvalidPhone, h.handle(t, "call me maybe").Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.Zero(t, h.sessions.Len())
	assert.Zero(t, h.factory.builds)
}

func TestExistingAccountRejectedWithoutProvider(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	require.NoError(t, h.accounts.Create(context.Background(), domain.AccountRecord{
		CountryCode: "+1", National: "5551234", Status: domain.AccountProvisioned,
	}))
	assert.Equal(t, OutcomeAlreadyExists, h.handle(t, "+1 555-1234").Outcome)
	assert.Zero(t, h.factory.builds)
	_, ok := h.step(t)
	assert.False(t, ok)
}

func TestExistingArtifactRejected(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	require.NoError(t, os.WriteFile(h.artifacts.Path("+15551234"), []byte("x"), 0o600))
	assert.Equal(t, OutcomeAlreadyExists, h.handle(t, "15551234").Outcome)
	assert.Zero(t, h.factory.builds)
}

func TestMalformedCodeLeavesStepUntouched(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.handle(t, "+15551234")
	before, _ := h.step(t)

	h.now = h.now.Add(time.Minute)
	assert.Equal(t, OutcomeInvalidCode, h.handle(t, "12a45").Outcome)
	after, _ := h.step(t)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"+15551234"}, h.factory.last().inputs)
}

func TestWrongCodeReissuesStep(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.handle(t, "+15551234")
	h.now = h.now.Add(time.Minute)
	assert.Equal(t, OutcomeCodeRetry, h.handle(t, "54321").Outcome)
	rec, ok := h.step(t)
	require.True(t, ok)
	assert.Equal(t, h.now.Add(5*time.Minute), rec.ExpiresAt)
	assert.True(t, h.sessions.Contains(user))
}

func TestTerminalFailureTearsDown(t *testing.T) {
	cases := map[string]struct {
		code string
		want Outcome
	}{
		"banned":  {"PHONE_NUMBER_BANNED", OutcomeBanned},
		"flood":   {"FLOOD_WAIT_30", OutcomeRateLimited},
		"revoked": {"SESSION_REVOKED", OutcomeRevoked},
		"frozen":  {"FROZEN_METHOD_INVALID", OutcomeFrozen},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			script := map[string]submitResult{
				"+15551234": {challenge: provider.ChallengeCode},
				"12345":     {err: provider.Wrap(provider.ClassifyCode(tc.code), tc.code, errors.New(tc.code))},
			}
			h := newHarness(t, domain.Policy{}, script)
			h.handle(t, "+15551234")
			assert.Equal(t, tc.want, h.handle(t, "12345").Outcome)
			_, ok := h.step(t)
			assert.False(t, ok)
			assert.False(t, h.sessions.Contains(user))
			assert.Equal(t, 1, h.factory.last().disconnects)
			assert.False(t, h.artifacts.Exists("+15551234"))
		})
	}
}

func TestUnknownErrorForcesTeardown(t *testing.T) {
	script := map[string]submitResult{
		"+15551234": {challenge: provider.ChallengeCode},
		"12345":     {err: errors.New("boom")},
	}
	h := newHarness(t, domain.Policy{}, script)
	h.handle(t, "+15551234")

	r, err := h.m.Handle(context.Background(), user, "12345")
	assert.Error(t, err)
	assert.Equal(t, OutcomeTryAgain, r.Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.False(t, h.sessions.Contains(user))
}

func TestMissingSessionSelfHeals(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	require.NoError(t, h.steps.Replace(context.Background(), domain.StepRecord{UserID: user, Kind: domain.StepLoginCode, ExpiresAt: h.now.Add(time.Minute)}))

	assert.Equal(t, OutcomeTryAgain, h.handle(t, "12345").Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
}

func TestLimitedAccountIsTerminal(t *testing.T) {
	h := newHarness(t, domain.Policy{UseCheckReport: true}, happyScript)
	h.factory.next = func() *fakeClient { return &fakeClient{script: happyScript, limited: true} }

	h.handle(t, "+15551234")
	assert.Equal(t, OutcomeLimited, h.handle(t, "12345").Outcome)
	assert.Contains(t, h.factory.last().calls, "logout")
	counts, err := h.accounts.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Provisioned)
	assert.False(t, h.artifacts.Exists("+15551234"))
}

func TestConnectFailureStaysIdle(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.factory.next = func() *fakeClient {
		return &fakeClient{script: happyScript, connectErr: provider.Wrap(provider.ClassTransient, "", errors.New("dial"))}
	}
	assert.Equal(t, OutcomeRetryLater, h.handle(t, "+15551234").Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, 1, h.factory.last().disconnects)
}

func TestCancelTearsDown(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.handle(t, "+15551234")
	require.True(t, h.artifacts.Exists("+15551234"))

	assert.Equal(t, OutcomeCancelled, h.m.Cancel(context.Background(), user).Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.False(t, h.sessions.Contains(user))
	assert.False(t, h.artifacts.Exists("+15551234"))
	assert.Equal(t, 1, h.factory.last().disconnects)
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.handle(t, "+15551234")
	sess, _ := h.sessions.Get(user)
	sess.Client = panicClient{sess.Client}

	r, err := h.m.Handle(context.Background(), user, "12345")
	assert.Error(t, err)
	assert.Equal(t, OutcomeTryAgain, r.Outcome)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.False(t, h.sessions.Contains(user))
}

type panicClient struct{ provider.Client }

func (panicClient) SubmitChallenge(context.Context, string) (provider.Challenge, error) {
	panic("provider exploded")
}

func TestAdminStepHandler(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	require.Error(t, h.m.RegisterStep(domain.StepLoginCode, func(context.Context, int64, string) (Reply, error) { return Reply{}, nil }))

	var got string
	require.NoError(t, h.m.RegisterStep(domain.StepAdminInput, func(_ context.Context, _ int64, input string) (Reply, error) {
		got = input
		return Reply{Outcome: OutcomeStep, Detail: input}, nil
	}))
	require.NoError(t, h.m.Begin(context.Background(), user, domain.StepAdminInput))
	assert.ErrorIs(t, h.m.Begin(context.Background(), user, domain.StepAdminInput), ErrFlowActive)

	r := h.handle(t, "777")
	assert.Equal(t, OutcomeStep, r.Outcome)
	assert.Equal(t, "777", got)
	_, ok := h.step(t)
	assert.False(t, ok)
}

func (h *harness) heldLocks() int {
	h.m.locksMu.Lock()
	defer h.m.locksMu.Unlock()
	return len(h.m.locks)
}

func TestPasswordRotationFailureStillCommits(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	h.factory.next = func() *fakeClient {
		return &fakeClient{script: happyScript, enableErr: provider.Wrap(provider.ClassUnknown, "PASSWORD_HASH_INVALID", errors.New("hash"))}
	}

	h.handle(t, "+15551234")
	assert.Equal(t, OutcomeSuccess, h.handle(t, "12345").Outcome)
	calls := h.factory.last().calls
	assert.Equal(t, 1, countOf(calls, "password.enable"))
	assert.NotContains(t, calls, "password.disable")
}

func TestExpireSkipsLiveStep(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	ctx := context.Background()
	h.handle(t, "+15551234")

	kind, evicted, err := h.m.Expire(ctx, user, h.now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, evicted)
	assert.Equal(t, domain.StepLoginCode, kind)
	assert.True(t, h.sessions.Contains(user))
	assert.True(t, h.artifacts.Exists("+15551234"))

	kind, evicted, err = h.m.Expire(ctx, user, h.now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, evicted)
	assert.Equal(t, domain.StepLoginCode, kind)
	_, ok := h.step(t)
	assert.False(t, ok)
	assert.False(t, h.sessions.Contains(user))
	assert.False(t, h.artifacts.Exists("+15551234"))
	assert.Equal(t, 1, h.factory.last().disconnects)

	_, evicted, err = h.m.Expire(ctx, user, h.now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.False(t, evicted)
	assert.Zero(t, h.heldLocks())
}

func TestExpireWaitsForInflightCode(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	ctx := context.Background()
	h.handle(t, "+15551234")

	c := h.factory.last()
	c.hold = "12345"
	c.entered = make(chan struct{})
	c.release = make(chan struct{})

	done := make(chan Reply, 1)
	go func() {
		r, _ := h.m.Handle(ctx, user, "12345")
		done <- r
	}()
	<-c.entered

	late := h.now.Add(10 * time.Minute)
	sw, err := sweeper.New(h.steps, h.m, nil, sweeper.Options{Now: func() time.Time { return late }})
	require.NoError(t, err)
	defer sw.Stop(ctx)
	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted, "a flow mid-input is not evicted")
	assert.True(t, h.artifacts.Exists("+15551234"))

	close(c.release)
	r := <-done
	require.Equal(t, OutcomeSuccess, r.Outcome)
	assert.True(t, h.artifacts.Exists("+15551234"), "committed account keeps its credential file")
	acc, err := h.accounts.Get(ctx, r.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "15551234.session", acc.CredentialsRef)

	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted)
	assert.True(t, h.artifacts.Exists("+15551234"))
	assert.Zero(t, h.heldLocks())
}

func TestFinalizeAbandonsEvictedSession(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	ctx := context.Background()
	h.handle(t, "+15551234")

	c := h.factory.last()
	c.hooks = map[string]func(){"offline": func() {
		if sess, ok := h.sessions.Take(user); ok {
			_ = sess.Close(ctx, true)
		}
	}}

	r, err := h.m.Handle(ctx, user, "12345")
	assert.Error(t, err)
	assert.Equal(t, OutcomeRevoked, r.Outcome)
	counts, err := h.accounts.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Provisioned)
	assert.False(t, h.artifacts.Exists("+15551234"))
	_, ok := h.step(t)
	assert.False(t, ok)
}

func TestLocksArePruned(t *testing.T) {
	h := newHarness(t, domain.Policy{}, happyScript)
	ctx := context.Background()
	for id := int64(1); id <= 50; id++ {
		_, _ = h.m.Handle(ctx, id, "not a phone")
		h.m.Cancel(ctx, id)
		_, _, _ = h.m.Expire(ctx, id, h.now)
	}
	assert.Zero(t, h.heldLocks())
}
