package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/logger"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/onboarding"
	"github.com/m3rciful/receiverbot/internal/storage"
)

// Flow feeds free text into the onboarding machine and answers with exactly
// one message.
func (b *Bot) Flow(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	reply, err := b.deps.Machine.Handle(ctx, senderID(c), c.Text())
	if err != nil {
		logger.Error(ctx, "bot", "flow.failed", slog.String("outcome", string(reply.Outcome)), logger.Err(err))
	}
	text, markup := render(reply)
	if markup != nil {
		return tghelpers.SendMD(c, text, markup)
	}
	return tghelpers.SendMD(c, text)
}

func (b *Bot) handleStart(c tele.Context) error {
	return tghelpers.SendMD(c, textStart)
}

func (b *Bot) handleCancel(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	text, _ := render(b.deps.Machine.Cancel(ctx, senderID(c)))
	if c.Callback() != nil {
		_ = c.Respond()
		return tghelpers.EditOrSendMD(c, text)
	}
	return tghelpers.SendMD(c, text)
}

func (b *Bot) handleHelp(c tele.Context) error {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	admin := b.opts.IsAdmin(senderID(c))
	cmds := b.reg.Commands()
	for _, name := range slices.Sorted(maps.Keys(cmds)) {
		cmd := cmds[name]
		if cmd.Hidden || (cmd.AdminOnly && !admin) {
			continue
		}
		fmt.Fprintf(&sb, "%s %s\n", name, cmd.Description)
	}
	return tghelpers.SendText(c, sb.String())
}

// lookupUser answers the admin_input step started by /infouser.
func (b *Bot) lookupUser(ctx context.Context, _ int64, input string) (onboarding.Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || id <= 0 {
		return onboarding.Reply{Outcome: onboarding.OutcomeStep, Detail: textBadUserID}, nil
	}
	info, err := b.userInfo(ctx, id)
	if errors.Is(err, storage.ErrUserNotFound) {
		return onboarding.Reply{Outcome: onboarding.OutcomeStep, Detail: textUnknownUser}, nil
	}
	if err != nil {
		return onboarding.Reply{Outcome: onboarding.OutcomeTryAgain}, err
	}
	return onboarding.Reply{Outcome: onboarding.OutcomeStep, Detail: info}, nil
}

func (b *Bot) userInfo(ctx context.Context, userID int64) (userInfo, error) {
	u, err := b.deps.Stores.Users.Get(ctx, userID)
	if err != nil {
		return userInfo{}, err
	}
	counts, err := b.deps.Stores.Accounts.CountByOwner(ctx, userID)
	if err != nil {
		return userInfo{}, err
	}
	return userInfo{User: u, Counts: counts}, nil
}

// Notifier tells users about evicted flows through the send queue.
type Notifier struct {
	api tele.API
}

// NewNotifier returns a notifier sending through api.
func NewNotifier(api tele.API) *Notifier {
	return &Notifier{api: api}
}

// NotifyTimeout tells userID that their flow was evicted.
func (n *Notifier) NotifyTimeout(ctx context.Context, userID int64, kind domain.StepKind) error {
	return tghelpers.Notify(ctx, n.api, userID, timeoutText(kind))
}
