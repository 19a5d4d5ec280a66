// Package bot is the Telegram surface of the onboarding service: commands,
// callbacks and timeout notifications.
package bot

import (
	"context"
	"errors"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/receiverbot/core/telegram"
	"github.com/m3rciful/receiverbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"
	"github.com/m3rciful/receiverbot/internal/artifact"
	"github.com/m3rciful/receiverbot/internal/device"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/onboarding"
	"github.com/m3rciful/receiverbot/internal/proxy"
	"github.com/m3rciful/receiverbot/internal/session"
	"github.com/m3rciful/receiverbot/internal/storage"
)

// Deps are the services the handlers use.
type Deps struct {
	Machine   *onboarding.Machine
	Stores    storage.Stores
	Sessions  *session.Cache
	Proxies   *proxy.Pool
	Devices   *device.Pool
	Artifacts *artifact.Store
}

// Options configure access rules.
type Options struct {
	IsAdmin         func(userID int64) bool
	RequireApproval bool
	ProxiesFile     string
	// ForceJoin maps channel usernames to invite links users must follow.
	ForceJoin map[string]string
	// Member overrides the membership lookup.
	Member MembershipChecker
}

// Bot owns the handlers.
type Bot struct {
	deps Deps
	opts Options
	reg  *tg.Registry

	member MembershipChecker
}

// New validates deps and returns a Bot.
func New(deps Deps, opts Options) (*Bot, error) {
	if deps.Machine == nil || deps.Sessions == nil || deps.Artifacts == nil {
		return nil, errors.New("bot: machine, sessions and artifacts are required")
	}
	if deps.Stores.Accounts == nil || deps.Stores.Users == nil || deps.Stores.Settings == nil {
		return nil, errors.New("bot: stores are required")
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(int64) bool { return false }
	}
	b := &Bot{deps: deps, opts: opts, member: opts.Member}
	if b.member == nil {
		b.member = chatMember
	}
	return b, nil
}

// Register binds commands, callbacks and the admin input step.
func (b *Bot) Register(reg *tg.Registry) error {
	b.reg = reg
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/start", commands.Command{Handler: b.handleStart, Description: "Start"}},
		{"/cancel", commands.Command{Handler: b.handleCancel, Description: "Cancel the current operation", Aliases: []string{"cancel"}}},
		{"/sessions", commands.Command{Handler: b.handleSessions, Description: "Your accounts"}},
		{"/help", commands.Command{Handler: b.handleHelp, Description: "Show commands"}},
		{"/settings", commands.Command{Handler: b.handleSettings, Description: "Bot settings", AdminOnly: true}},
		{"/infouser", commands.Command{Handler: b.handleInfoUser, Description: "Look up a user", AdminOnly: true}},
		{"/stats", commands.Command{Handler: b.handleStats, Description: "Runtime statistics", AdminOnly: true}},
	}
	for _, c := range cmds {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}

	callbacks := map[string]tele.HandlerFunc{
		cbClaim:   b.handleClaim,
		cbCancel:  b.handleCancel,
		cbJoined:  b.handleJoined,
		cbSetting: b.adminOnly(b.handleSettingToggle),
		cbPerm:    b.adminOnly(b.handlePermToggle),
	}
	for key, h := range callbacks {
		if err := reg.RegisterCallback(key, h); err != nil {
			return err
		}
	}
	return b.deps.Machine.RegisterStep(domain.StepAdminInput, b.lookupUser)
}

// Allowed registers userID on first contact and reports whether it may use
// the bot.
func (b *Bot) Allowed(ctx context.Context, userID int64) (bool, error) {
	if b.opts.IsAdmin(userID) {
		return true, nil
	}
	u, _, err := b.deps.Stores.Users.Register(ctx, userID, !b.opts.RequireApproval)
	if err != nil {
		return false, err
	}
	return u.Allowed, nil
}

// OnDenied answers senders the access check rejected.
func (b *Bot) OnDenied(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: textDenied})
	}
	return tghelpers.SendText(c, textDenied)
}

// OnAdminReject answers non-admins using admin commands.
func (b *Bot) OnAdminReject(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: textAdminOnly})
	}
	return tghelpers.SendText(c, textAdminOnly)
}

// OnRateLimited answers senders that hit the rate limit.
func (b *Bot) OnRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: textSlowDown})
	}
	return tghelpers.SendText(c, textSlowDown)
}

func (b *Bot) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || !b.opts.IsAdmin(c.Sender().ID) {
			return b.OnAdminReject(c)
		}
		return h(c)
	}
}

func senderID(c tele.Context) int64 {
	if c.Sender() == nil {
		return 0
	}
	return c.Sender().ID
}
