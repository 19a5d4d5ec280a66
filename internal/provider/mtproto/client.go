// Package mtproto implements provider.Client on top of the gotd MTProto
// client. Each Client owns one connection and its file session storage.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/provider"
	"github.com/m3rciful/receiverbot/internal/proxy"
)

const (
	reportBot     = "SpamBot"
	reportFreeTag = "no limits"
	reportHistory = 5
)

var errNoReport = errors.New("mtproto: no answer from report bot")

// Config holds application credentials shared by every client.
type Config struct {
	AppID       int
	AppHash     string
	DialTimeout time.Duration
	// ProtocolLogger returns the protocol trace logger for a flow label.
	ProtocolLogger func(label string) *zap.Logger
	// ReportWait bounds how long to wait for the report bot to answer.
	ReportWait time.Duration
	// ReportPoll is the history polling interval while waiting.
	ReportPoll time.Duration
}

// NewFactory returns a provider.Factory building gotd clients.
func NewFactory(cfg Config) provider.Factory {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReportWait <= 0 {
		cfg.ReportWait = 10 * time.Second
	}
	if cfg.ReportPoll <= 0 {
		cfg.ReportPoll = 500 * time.Millisecond
	}
	return func(opts provider.Options) (provider.Client, error) {
		if cfg.AppID == 0 || cfg.AppHash == "" {
			return nil, errors.New("mtproto: app id and hash are required")
		}
		return &Client{cfg: cfg, opts: opts}, nil
	}
}

type stage int

const (
	stagePhone stage = iota
	stageCode
	stagePassword
	stageDone
)

// authFlow is the subset of *auth.Client the login stages use.
type authFlow interface {
	SendCode(ctx context.Context, phone string, opts auth.SendCodeOptions) (tg.AuthSentCodeClass, error)
	SignIn(ctx context.Context, phone, code, codeHash string) (*tg.AuthAuthorization, error)
	Password(ctx context.Context, password string) (*tg.AuthAuthorization, error)
	UpdatePassword(ctx context.Context, newPassword string, opts auth.UpdatePasswordOptions) error
}

// Client is a single gotd connection driven through the login stages.
type Client struct {
	cfg  Config
	opts provider.Options
	// auth overrides the connection's auth client when set.
	auth authFlow

	mu        sync.Mutex
	proxy     *domain.ProxyDescriptor
	tg        *telegram.Client
	cancel    context.CancelFunc
	done      chan error
	stage     stage
	phone     string
	codeHash  string
	password  string
	liveEvent atomic.Bool
}

// BindProxy routes the next Connect through p.
func (c *Client) BindProxy(p domain.ProxyDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = &p
}

// Connect starts the client and returns once it is ready for calls.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tg != nil {
		return nil
	}

	log := zap.NewNop()
	if c.opts.ProtocolLog && c.cfg.ProtocolLogger != nil {
		log = c.cfg.ProtocolLogger(c.opts.Label)
	}
	c.liveEvent.Store(true)

	topts := telegram.Options{
		Logger:         log,
		SessionStorage: &session.FileStorage{Path: c.opts.SessionPath},
		Device: telegram.DeviceConfig{
			DeviceModel:    c.opts.Device.Model,
			SystemVersion:  c.opts.Device.SystemVersion,
			AppVersion:     c.opts.Device.AppVersion,
			SystemLangCode: c.opts.Device.LangCode,
			LangCode:       c.opts.Device.LangCode,
		},
		UpdateHandler: telegram.UpdateHandlerFunc(func(ctx context.Context, u tg.UpdatesClass) error {
			if !c.liveEvent.Load() {
				return nil
			}
			logger.Debug(ctx, "provider", "update", slog.String("type", fmt.Sprintf("%T", u)))
			return nil
		}),
	}
	if c.proxy != nil {
		dialer, err := proxy.Dialer(*c.proxy, c.cfg.DialTimeout)
		if err != nil {
			return provider.Wrap(provider.ClassTransient, "", err)
		}
		topts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dialer.DialContext})
	}
	client := telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, topts)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	timer := time.NewTimer(c.cfg.DialTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("mtproto: client stopped before ready")
		}
		return classify(err)
	case <-timer.C:
		cancel()
		<-done
		return provider.Wrap(provider.ClassTransient, "", context.DeadlineExceeded)
	case <-ctx.Done():
		cancel()
		<-done
		return provider.Wrap(provider.ClassTransient, "", ctx.Err())
	}

	c.tg, c.cancel, c.done = client, cancel, done
	return nil
}

// Disconnect stops the client and waits for it to exit.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.tg, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) client() (*telegram.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tg == nil {
		return nil, errors.New("mtproto: not connected")
	}
	return c.tg, nil
}

func (c *Client) authenticator() (authFlow, error) {
	if c.auth != nil {
		return c.auth, nil
	}
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	return client.Auth(), nil
}

// SubmitChallenge feeds the phone, the code, then the password.
func (c *Client) SubmitChallenge(ctx context.Context, input string) (provider.Challenge, error) {
	flow, err := c.authenticator()
	if err != nil {
		return provider.ChallengeNone, err
	}
	c.mu.Lock()
	st := c.stage
	c.mu.Unlock()

	switch st {
	case stagePhone:
		sent, err := flow.SendCode(ctx, input, auth.SendCodeOptions{})
		if err != nil {
			return provider.ChallengeNone, classify(err)
		}
		switch s := sent.(type) {
		case *tg.AuthSentCode:
			c.advance(stageCode, func() { c.phone, c.codeHash = input, s.PhoneCodeHash })
			return provider.ChallengeCode, nil
		case *tg.AuthSentCodeSuccess:
			c.advance(stageDone, nil)
			return provider.ChallengeNone, nil
		default:
			return provider.ChallengeNone, fmt.Errorf("mtproto: unexpected sent code %T", sent)
		}

	case stageCode:
		c.mu.Lock()
		phone, hash := c.phone, c.codeHash
		c.mu.Unlock()
		_, err := flow.SignIn(ctx, phone, input, hash)
		var signUp *auth.SignUpRequired
		switch {
		case errors.Is(err, auth.ErrPasswordAuthNeeded):
			c.advance(stagePassword, nil)
			return provider.ChallengePassword, nil
		case errors.As(err, &signUp):
			return provider.ChallengeNone, provider.Wrap(provider.ClassInvalidInput, "PHONE_NUMBER_UNOCCUPIED", err)
		case err != nil:
			return provider.ChallengeNone, classify(err)
		}
		c.advance(stageDone, nil)
		return provider.ChallengeNone, nil

	case stagePassword:
		if _, err := flow.Password(ctx, input); err != nil {
			return provider.ChallengeNone, classify(err)
		}
		c.advance(stageDone, func() { c.password = input })
		return provider.ChallengeNone, nil
	}
	return provider.ChallengeNone, errors.New("mtproto: already signed in")
}

func (c *Client) advance(next stage, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = next
	if fn != nil {
		fn()
	}
}

// Logout terminates the provider session.
func (c *Client) Logout(ctx context.Context) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	_, err = client.API().AuthLogOut(ctx)
	return classify(err)
}

// SetPresence marks the account online or offline.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	_, err = client.API().AccountUpdateStatus(ctx, !online)
	return classify(err)
}

// DisableLiveEvents stops processing pushed updates.
func (c *Client) DisableLiveEvents() {
	c.liveEvent.Store(false)
}

// UpdateBio replaces the profile about text.
func (c *Client) UpdateBio(ctx context.Context, text string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	req := &tg.AccountUpdateProfileRequest{}
	req.SetAbout(text)
	_, err = client.API().AccountUpdateProfile(ctx, req)
	return classify(err)
}

func (c *Client) currentPassword(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.password == "" {
		return "", errors.New("mtproto: current password unknown")
	}
	return c.password, nil
}

// EnableSecondaryPassword sets a new cloud password.
func (c *Client) EnableSecondaryPassword(ctx context.Context, newPassword, hint string) error {
	flow, err := c.authenticator()
	if err != nil {
		return err
	}
	err = flow.UpdatePassword(ctx, newPassword, auth.UpdatePasswordOptions{
		Hint:     hint,
		Password: c.currentPassword,
	})
	if err != nil {
		return classify(err)
	}
	c.advance(stageDone, func() { c.password = newPassword })
	return nil
}

// DisableSecondaryPassword removes the cloud password protected by current.
func (c *Client) DisableSecondaryPassword(ctx context.Context, current string) error {
	flow, err := c.authenticator()
	if err != nil {
		return err
	}
	c.advance(stageDone, func() { c.password = current })
	err = flow.UpdatePassword(ctx, "", auth.UpdatePasswordOptions{Password: c.currentPassword})
	if err != nil {
		return classify(err)
	}
	c.advance(stageDone, func() { c.password = "" })
	return nil
}

// CheckReportStatus asks the report bot whether the account is limited. It
// waits up to ReportWait for the bot's answer; no answer is an error, not a
// verdict.
func (c *Client) CheckReportStatus(ctx context.Context) (bool, error) {
	client, err := c.client()
	if err != nil {
		return false, err
	}
	api := client.API()
	peer := message.NewSender(api).Resolve(reportBot)
	input, err := peer.AsInputPeer(ctx)
	if err != nil {
		return false, classify(err)
	}
	// a blocked bot never answers
	if _, err := api.ContactsUnblock(ctx, &tg.ContactsUnblockRequest{ID: input}); err != nil {
		logger.Debug(ctx, "provider", "report.unblock_failed", logger.Err(err))
	}
	if _, err := peer.Text(ctx, "/start"); err != nil {
		return false, classify(err)
	}

	botID := peerUserID(input)
	deadline := time.NewTimer(c.cfg.ReportWait)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.ReportPoll)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
		case <-deadline.C:
			return false, errNoReport
		case <-ctx.Done():
			return false, ctx.Err()
		}
		history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: input, Limit: reportHistory})
		if err != nil {
			return false, classify(err)
		}
		if text, ok := botReply(history, botID); ok {
			return limitedReply(text), nil
		}
	}
}

func peerUserID(p tg.InputPeerClass) int64 {
	if u, ok := p.(*tg.InputPeerUser); ok {
		return u.UserID
	}
	return 0
}

// botReply returns the bot's answer to the newest outgoing message. History
// is newest first, so reaching an outgoing message means no answer yet.
func botReply(history tg.MessagesMessagesClass, botID int64) (string, bool) {
	var msgs []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		msgs = h.Messages
	case *tg.MessagesMessagesSlice:
		msgs = h.Messages
	case *tg.MessagesChannelMessages:
		msgs = h.Messages
	}
	for _, m := range msgs {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		if msg.Out {
			return "", false
		}
		if fromUser(msg, botID) && strings.TrimSpace(msg.Message) != "" {
			return msg.Message, true
		}
	}
	return "", false
}

func fromUser(msg *tg.Message, userID int64) bool {
	if userID == 0 {
		return true
	}
	from, ok := msg.GetFromID()
	if !ok {
		from = msg.PeerID
	}
	u, ok := from.(*tg.PeerUser)
	return ok && u.UserID == userID
}

func limitedReply(text string) bool {
	return !strings.Contains(strings.ToLower(text), reportFreeTag)
}
