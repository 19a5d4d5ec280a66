package bot

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"
	"github.com/m3rciful/receiverbot/core/telegram/keyboard"
)

// MembershipChecker reports whether userID is still a member of channel.
type MembershipChecker func(ctx context.Context, api tele.API, channel string, userID int64) (bool, error)

type channel string

func (ch channel) Recipient() string { return "@" + string(ch) }

func chatMember(_ context.Context, api tele.API, name string, userID int64) (bool, error) {
	m, err := api.ChatMemberOf(channel(name), &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	// kicked users cannot rejoin, so they are not asked to
	return m.Role != tele.Left, nil
}

type joinLink struct {
	Name string
	URL  string
}

// missingChannels lists the required channels userID has not joined, in
// name order. A channel whose membership cannot be read is skipped.
func (b *Bot) missingChannels(ctx context.Context, api tele.API, userID int64) []joinLink {
	var missing []joinLink
	for _, name := range slices.Sorted(maps.Keys(b.opts.ForceJoin)) {
		joined, err := b.member(ctx, api, name, userID)
		if err != nil {
			logger.Warn(ctx, "bot", "join.check_failed", slog.String("channel", name), logger.Err(err))
			continue
		}
		if !joined {
			missing = append(missing, joinLink{Name: name, URL: b.opts.ForceJoin[name]})
		}
	}
	return missing
}

func joinMarkup(missing []joinLink) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(missing)+1)
	for _, l := range missing {
		rows = append(rows, []tele.InlineButton{{Text: "📢 " + l.Name, URL: l.URL}})
	}
	joined := keyboard.InlineButtonsRows([]keyboard.InlineBtn{{Text: "✅ I joined", Unique: cbJoined, Data: "check"}})
	markup.InlineKeyboard = append(rows, joined.InlineKeyboard...)
	return markup
}

// RequireJoin stops senders who left a required channel and shows them the
// channels to join. Admins and the re-check button pass through.
func (b *Bot) RequireJoin(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if len(b.opts.ForceJoin) == 0 || c.Sender() == nil || b.opts.IsAdmin(c.Sender().ID) {
			return next(c)
		}
		if unique, _ := callbacks.ParseCallbackData(c.Callback()); unique == cbJoined {
			return next(c)
		}
		ctx := tghelpers.BuildContext(c)
		missing := b.missingChannels(ctx, c.Bot(), c.Sender().ID)
		if len(missing) == 0 {
			return next(c)
		}
		logger.Debug(ctx, "bot", "join.required", slog.Int("missing", len(missing)))
		if c.Callback() != nil {
			_ = c.Respond(&tele.CallbackResponse{Text: textJoinFirst})
		}
		return tghelpers.SendMD(c, joinText(missing), joinMarkup(missing))
	}
}

func joinText(missing []joinLink) string {
	names := make([]string, 0, len(missing))
	for _, l := range missing {
		names = append(names, "@"+l.Name)
	}
	return textJoinFirst + "\n" + strings.Join(names, "\n")
}

func (b *Bot) handleJoined(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	missing := b.missingChannels(ctx, c.Bot(), senderID(c))
	if len(missing) > 0 {
		_ = c.Respond(&tele.CallbackResponse{Text: textStillMissing})
		return tghelpers.EditOrSendMD(c, joinText(missing), joinMarkup(missing))
	}
	_ = c.Respond()
	return tghelpers.EditOrSendMD(c, textStart)
}
