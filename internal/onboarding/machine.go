// Package onboarding drives the per-user account onboarding flow: phone
// number, verification code, optional secondary password, then commit.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
	"github.com/m3rciful/receiverbot/internal/session"
	"github.com/m3rciful/receiverbot/internal/storage"
)

const component = "onboarding"

// DefaultStepTTL bounds how long a flow waits for the next input.
const DefaultStepTTL = 5 * time.Minute

var codeRe = regexp.MustCompile(`^[0-9]{5}$`)

// StepStore persists the per-user step marker.
type StepStore interface {
	Get(ctx context.Context, userID int64) (domain.StepRecord, error)
	Replace(ctx context.Context, rec domain.StepRecord) error
	Remove(ctx context.Context, userID int64) error
}

// AccountStore commits provisioned accounts.
type AccountStore interface {
	Create(ctx context.Context, rec domain.AccountRecord) error
	Exists(ctx context.Context, countryCode, national string) (bool, error)
}

// PolicySource returns the current runtime toggles.
type PolicySource interface {
	Policy(ctx context.Context) (domain.Policy, error)
}

// DevicePool hands out device fingerprints.
type DevicePool interface {
	Random() (domain.DeviceFingerprint, error)
}

// ProxySelector finds a working proxy.
type ProxySelector interface {
	Select(ctx context.Context) (domain.ProxyDescriptor, bool)
}

// ArtifactStore locates credential files.
type ArtifactStore interface {
	Path(e164 string) string
	Exists(e164 string) bool
}

// StepHandler consumes the input for a step kind registered by the bot layer.
type StepHandler func(ctx context.Context, userID int64, input string) (Reply, error)

// Deps are the collaborators of a Machine.
type Deps struct {
	Steps     StepStore
	Accounts  AccountStore
	Sessions  *session.Cache
	Proxies   ProxySelector
	Devices   DevicePool
	Policy    PolicySource
	Artifacts ArtifactStore
	Factory   provider.Factory
}

// Options tune a Machine.
type Options struct {
	StepTTL      time.Duration
	Password2FA  string
	PasswordHint string
	Bio          string
	Now          func() time.Time
}

// Machine is the onboarding state machine. It is safe for concurrent use;
// inputs of one user are processed one at a time.
type Machine struct {
	deps Deps
	opts Options

	locksMu  sync.Mutex
	locks    map[int64]*userLock
	handlers map[domain.StepKind]StepHandler
	hmu      sync.RWMutex
}

// New validates deps and returns a Machine.
func New(deps Deps, opts Options) (*Machine, error) {
	switch {
	case deps.Steps == nil, deps.Accounts == nil, deps.Sessions == nil:
		return nil, errors.New("onboarding: steps, accounts and sessions are required")
	case deps.Devices == nil, deps.Artifacts == nil, deps.Factory == nil:
		return nil, errors.New("onboarding: devices, artifacts and provider factory are required")
	}
	if opts.StepTTL <= 0 {
		opts.StepTTL = DefaultStepTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		deps:     deps,
		opts:     opts,
		locks:    make(map[int64]*userLock),
		handlers: make(map[domain.StepKind]StepHandler),
	}, nil
}

// RegisterStep routes inputs for kind to h. Built-in kinds cannot be replaced.
func (m *Machine) RegisterStep(kind domain.StepKind, h StepHandler) error {
	if kind == domain.StepLoginCode || kind == domain.StepPassword2FA {
		return fmt.Errorf("onboarding: step %q is built in", kind)
	}
	if h == nil {
		return errors.New("onboarding: nil step handler")
	}
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[kind] = h
	return nil
}

// Begin puts userID into kind with a fresh expiry. It fails when a flow is
// already running for the user.
func (m *Machine) Begin(ctx context.Context, userID int64, kind domain.StepKind) error {
	defer m.acquire(userID)()
	if _, err := m.deps.Steps.Get(ctx, userID); err == nil {
		return ErrFlowActive
	} else if !errors.Is(err, storage.ErrStepNotFound) {
		return err
	}
	return m.deps.Steps.Replace(ctx, m.record(userID, kind))
}

// ErrFlowActive is returned by Begin when the user is mid-flow.
var ErrFlowActive = errors.New("onboarding: flow already active")

// userLock serializes one user's inputs. The entry lives in Machine.locks
// only while someone holds or waits for it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// acquire locks userID and returns the unlock func.
func (m *Machine) acquire(userID int64) func() {
	m.locksMu.Lock()
	l := m.locks[userID]
	if l == nil {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() { m.release(userID, l) }
}

// tryAcquire locks userID only if nobody holds or waits for it.
func (m *Machine) tryAcquire(userID int64) (func(), bool) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if _, busy := m.locks[userID]; busy {
		return nil, false
	}
	l := &userLock{refs: 1}
	l.mu.Lock()
	m.locks[userID] = l
	return func() { m.release(userID, l) }, true
}

func (m *Machine) release(userID int64, l *userLock) {
	l.mu.Unlock()
	m.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, userID)
	}
	m.locksMu.Unlock()
}

func (m *Machine) record(userID int64, kind domain.StepKind) domain.StepRecord {
	return domain.StepRecord{UserID: userID, Kind: kind, ExpiresAt: m.opts.Now().Add(m.opts.StepTTL)}
}

// Handle advances the user's flow by one step with input.
//
// The returned error reports infrastructure failures for logging; the reply
// is always usable.
func (m *Machine) Handle(ctx context.Context, userID int64, input string) (reply Reply, err error) {
	ctx = logger.WithUser(ctx, userID)
	defer m.acquire(userID)()

	start := time.Now()
	step := "idle"
	defer func() {
		if r := recover(); r != nil {
			m.abort(ctx, userID)
			reply, err = Reply{Outcome: OutcomeTryAgain}, fmt.Errorf("onboarding: panic: %v", r)
		}
		attrs := []slog.Attr{
			slog.String("step", step),
			slog.String("outcome", string(reply.Outcome)),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, logger.Err(err))
			logger.Error(ctx, component, "flow.step", attrs...)
			return
		}
		logger.Info(ctx, component, "flow.step", attrs...)
	}()

	rec, err := m.deps.Steps.Get(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrStepNotFound):
		return m.start(ctx, userID, input)
	case err != nil:
		return Reply{Outcome: OutcomeTryAgain}, fmt.Errorf("load step: %w", err)
	}

	step = string(rec.Kind)
	switch rec.Kind {
	case domain.StepLoginCode:
		return m.submitCode(ctx, userID, input)
	case domain.StepPassword2FA:
		return m.submitPassword(ctx, userID, input)
	}

	m.hmu.RLock()
	h, ok := m.handlers[rec.Kind]
	m.hmu.RUnlock()
	if err := m.deps.Steps.Remove(ctx, userID); err != nil {
		return Reply{Outcome: OutcomeTryAgain}, fmt.Errorf("remove step: %w", err)
	}
	if !ok {
		return Reply{Outcome: OutcomeTryAgain}, nil
	}
	return h(ctx, userID, input)
}

// Cancel ends whatever flow the user is in.
func (m *Machine) Cancel(ctx context.Context, userID int64) Reply {
	ctx = logger.WithUser(ctx, userID)
	defer m.acquire(userID)()
	m.abort(ctx, userID)
	return Reply{Outcome: OutcomeCancelled}
}

// Expire tears down userID's flow if its step is still expired at now and
// reports the evicted step kind. A user whose input is being processed is
// skipped; the next sweep sees the step again or finds it replaced.
func (m *Machine) Expire(ctx context.Context, userID int64, now time.Time) (domain.StepKind, bool, error) {
	ctx = logger.WithUser(ctx, userID)
	unlock, ok := m.tryAcquire(userID)
	if !ok {
		logger.Debug(ctx, component, "expire.busy")
		return "", false, nil
	}
	defer unlock()

	rec, err := m.deps.Steps.Get(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrStepNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("load step: %w", err)
	case !rec.Expired(now):
		return rec.Kind, false, nil
	}
	if err := m.deps.Steps.Remove(ctx, userID); err != nil {
		return rec.Kind, false, fmt.Errorf("remove step: %w", err)
	}
	if sess, ok := m.deps.Sessions.Take(userID); ok {
		m.close(ctx, sess, true)
	}
	return rec.Kind, true, nil
}

// Active reports whether userID has a step record.
func (m *Machine) Active(ctx context.Context, userID int64) bool {
	_, err := m.deps.Steps.Get(ctx, userID)
	return err == nil
}

func (m *Machine) policy(ctx context.Context) domain.Policy {
	if m.deps.Policy == nil {
		return domain.Policy{}
	}
	p, err := m.deps.Policy.Policy(ctx)
	if err != nil {
		logger.Warn(ctx, component, "policy.load_failed", logger.Err(err))
	}
	return p
}

func (m *Machine) start(ctx context.Context, userID int64, input string) (Reply, error) {
	phone, err := domain.ParsePhone(input)
	if err != nil {
		return Reply{Outcome: OutcomeInvalidPhone}, nil
	}
	reply := Reply{Phone: phone.E164}

	exists, err := m.deps.Accounts.Exists(ctx, phone.CountryCode, phone.National)
	if err != nil {
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("check account: %w", err)
	}
	if exists || m.deps.Artifacts.Exists(phone.E164) {
		reply.Outcome = OutcomeAlreadyExists
		return reply, nil
	}

	// a session without a step record is left over from an interrupted flow
	if stale, ok := m.deps.Sessions.Take(userID); ok {
		m.close(ctx, stale, true)
	}

	policy := m.policy(ctx)
	dev, err := m.deps.Devices.Random()
	if err != nil {
		reply.Outcome = OutcomeTryAgain
		return reply, err
	}
	path := m.deps.Artifacts.Path(phone.E164)
	client, err := provider.NewBuilder(m.deps.Factory).
		WithDevice(dev).
		WithSessionPath(path).
		WithProtocolLog(policy.UseLogCLI).
		WithLabel(phone.E164).
		Build()
	if err != nil {
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("build client: %w", err)
	}
	sess := &session.Session{UserID: userID, Phone: phone, Device: dev, Client: client, ArtifactPath: path}

	if policy.UseProxy && m.deps.Proxies != nil {
		if p, ok := m.deps.Proxies.Select(ctx); ok {
			client.BindProxy(p)
		} else {
			logger.Warn(ctx, component, "proxy.none")
		}
	}

	if err := client.Connect(ctx); err != nil {
		m.close(ctx, sess, true)
		return m.failed(reply, err)
	}
	challenge, err := client.SubmitChallenge(ctx, phone.E164)
	if err != nil {
		m.close(ctx, sess, true)
		return m.failed(reply, err)
	}
	if challenge != provider.ChallengeCode {
		m.close(ctx, sess, true)
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("unexpected challenge %q after phone", challenge)
	}

	if err := m.deps.Steps.Replace(ctx, m.record(userID, domain.StepLoginCode)); err != nil {
		m.close(ctx, sess, true)
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("write step: %w", err)
	}
	m.deps.Sessions.Put(userID, sess)
	reply.Outcome = OutcomeCodeSent
	return reply, nil
}

// failed maps an error on the idle path, where nothing is cached yet.
func (m *Machine) failed(reply Reply, err error) (Reply, error) {
	class := provider.ClassOf(err)
	reply.Outcome = outcomeFor(class)
	if class == provider.ClassInvalidInput {
		reply.Outcome = OutcomeInvalidPhone
	}
	if class == provider.ClassUnknown {
		return reply, err
	}
	return reply, nil
}

func (m *Machine) submitCode(ctx context.Context, userID int64, input string) (Reply, error) {
	sess, ok := m.deps.Sessions.Get(userID)
	if !ok {
		return m.lost(ctx, userID)
	}
	reply := Reply{Phone: sess.Phone.E164}
	code := strings.TrimSpace(input)
	if !codeRe.MatchString(code) {
		reply.Outcome = OutcomeInvalidCode
		return reply, nil
	}

	challenge, err := sess.Client.SubmitChallenge(ctx, code)
	if err != nil {
		return m.stepFailed(ctx, userID, reply, domain.StepLoginCode, OutcomeCodeRetry, err)
	}
	switch challenge {
	case provider.ChallengeNone:
		return m.finalize(ctx, userID, sess)
	case provider.ChallengePassword:
		return m.reissue(ctx, userID, reply, domain.StepPassword2FA, OutcomePasswordRequired)
	case provider.ChallengeCode:
		return m.reissue(ctx, userID, reply, domain.StepLoginCode, OutcomeCodeRetry)
	}
	m.abort(ctx, userID)
	reply.Outcome = OutcomeTryAgain
	return reply, fmt.Errorf("unexpected challenge %q after code", challenge)
}

func (m *Machine) submitPassword(ctx context.Context, userID int64, input string) (Reply, error) {
	sess, ok := m.deps.Sessions.Get(userID)
	if !ok {
		return m.lost(ctx, userID)
	}
	reply := Reply{Phone: sess.Phone.E164}
	password := strings.TrimSpace(input)
	if password == "" {
		return m.reissue(ctx, userID, reply, domain.StepPassword2FA, OutcomePasswordRetry)
	}

	challenge, err := sess.Client.SubmitChallenge(ctx, password)
	if err != nil {
		return m.stepFailed(ctx, userID, reply, domain.StepPassword2FA, OutcomePasswordRetry, err)
	}
	switch challenge {
	case provider.ChallengeNone:
		sess.Password = password
		return m.finalize(ctx, userID, sess)
	case provider.ChallengePassword:
		return m.reissue(ctx, userID, reply, domain.StepPassword2FA, OutcomePasswordRetry)
	}
	m.abort(ctx, userID)
	reply.Outcome = OutcomeTryAgain
	return reply, fmt.Errorf("unexpected challenge %q after password", challenge)
}

// lost handles a step record whose session did not survive, e.g. a restart.
func (m *Machine) lost(ctx context.Context, userID int64) (Reply, error) {
	logger.Warn(ctx, component, "session.missing")
	if err := m.deps.Steps.Remove(ctx, userID); err != nil {
		return Reply{Outcome: OutcomeTryAgain}, fmt.Errorf("remove step: %w", err)
	}
	return Reply{Outcome: OutcomeTryAgain}, nil
}

func (m *Machine) stepFailed(ctx context.Context, userID int64, reply Reply, kind domain.StepKind, retry Outcome, err error) (Reply, error) {
	class := provider.ClassOf(err)
	logger.Warn(ctx, component, "provider.failed",
		slog.String("step", string(kind)),
		slog.String("err_class", string(class)),
		logger.Err(err),
	)
	switch class {
	case provider.ClassInvalidInput:
		return m.reissue(ctx, userID, reply, kind, retry)
	case provider.ClassTransient:
		return m.reissue(ctx, userID, reply, kind, OutcomeRetryLater)
	case provider.ClassUnknown:
		m.abort(ctx, userID)
		reply.Outcome = OutcomeTryAgain
		return reply, err
	}
	m.abort(ctx, userID)
	reply.Outcome = outcomeFor(class)
	return reply, nil
}

func (m *Machine) reissue(ctx context.Context, userID int64, reply Reply, kind domain.StepKind, outcome Outcome) (Reply, error) {
	if err := m.deps.Steps.Replace(ctx, m.record(userID, kind)); err != nil {
		m.abort(ctx, userID)
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("write step: %w", err)
	}
	reply.Outcome = outcome
	return reply, nil
}

func (m *Machine) finalize(ctx context.Context, userID int64, sess *session.Session) (Reply, error) {
	reply := Reply{Phone: sess.Phone.E164}
	policy := m.policy(ctx)
	c := sess.Client

	c.DisableLiveEvents()
	m.bestEffort(ctx, "presence.online", c.SetPresence(ctx, true))

	if policy.UseCheckReport {
		limited, err := c.CheckReportStatus(ctx)
		switch {
		case err != nil:
			m.bestEffort(ctx, "report.check", err)
		case limited:
			m.bestEffort(ctx, "logout", c.Logout(ctx))
			m.abort(ctx, userID)
			reply.Outcome = OutcomeLimited
			return reply, nil
		}
	}
	if policy.UseChangeBio && m.opts.Bio != "" {
		m.bestEffort(ctx, "bio.update", c.UpdateBio(ctx, m.opts.Bio))
	}
	if m.opts.Password2FA != "" {
		// replaces the password proven at login in the same call
		m.bestEffort(ctx, "password.set", c.EnableSecondaryPassword(ctx, m.opts.Password2FA, m.opts.PasswordHint))
	}
	m.bestEffort(ctx, "presence.offline", c.SetPresence(ctx, false))

	if cur, ok := m.deps.Sessions.Get(userID); !ok || cur != sess {
		m.close(ctx, sess, true)
		m.clearStep(ctx, userID)
		reply.Outcome = OutcomeRevoked
		return reply, errors.New("session evicted before commit")
	}

	rec := domain.AccountRecord{
		ID:                uuid.New(),
		CountryCode:       sess.Phone.CountryCode,
		National:          sess.Phone.National,
		Status:            domain.AccountProvisioned,
		RegisteredOn:      m.opts.Now().UTC(),
		OwnerID:           userID,
		CredentialsRef:    filepath.Base(sess.ArtifactPath),
		DeviceFingerprint: sess.Device,
	}
	if err := m.deps.Accounts.Create(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			// the file on disk now belongs to the existing account
			m.deps.Sessions.Remove(userID)
			m.close(ctx, sess, false)
			m.clearStep(ctx, userID)
			reply.Outcome = OutcomeAlreadyExists
			return reply, nil
		}
		m.abort(ctx, userID)
		reply.Outcome = OutcomeTryAgain
		return reply, fmt.Errorf("create account: %w", err)
	}

	m.deps.Sessions.Remove(userID)
	m.close(ctx, sess, false)
	m.clearStep(ctx, userID)

	logger.Info(ctx, component, "account.provisioned",
		slog.String("account_id", rec.ID.String()),
		slog.String("device", rec.Model),
	)
	reply.Outcome = OutcomeSuccess
	reply.AccountID = rec.ID
	return reply, nil
}

func (m *Machine) bestEffort(ctx context.Context, action string, err error) {
	if err != nil {
		logger.Warn(ctx, component, "finalize.step_failed",
			slog.String("action", action),
			slog.String("err_class", string(provider.ClassOf(err))),
			logger.Err(err),
		)
	}
}

// abort tears the flow down completely: session, partial artifact and step.
func (m *Machine) abort(ctx context.Context, userID int64) {
	if sess, ok := m.deps.Sessions.Take(userID); ok {
		m.close(ctx, sess, true)
	}
	m.clearStep(ctx, userID)
}

func (m *Machine) clearStep(ctx context.Context, userID int64) {
	if err := m.deps.Steps.Remove(context.WithoutCancel(ctx), userID); err != nil {
		logger.Warn(ctx, component, "step.remove_failed", logger.Err(err))
	}
}

func (m *Machine) close(ctx context.Context, sess *session.Session, discard bool) {
	if err := sess.Close(context.WithoutCancel(ctx), discard); err != nil {
		logger.Warn(ctx, component, "session.close_failed", slog.Bool("discard", discard), logger.Err(err))
	}
}
