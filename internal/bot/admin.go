package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/onboarding"
	"github.com/m3rciful/receiverbot/internal/proxy"
	"github.com/m3rciful/receiverbot/internal/storage"
)

func (b *Bot) handleSettings(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	p, err := b.deps.Stores.Settings.Policy(ctx)
	if err != nil {
		return err
	}
	return tghelpers.SendMD(c, settingsText(p), settingsMarkup(p))
}

// toggleSetting flips key and keeps the proxy pool in line with use_proxy.
func (b *Bot) toggleSetting(ctx context.Context, key string) (domain.Policy, error) {
	if !storage.KnownSetting(key) {
		return domain.Policy{}, fmt.Errorf("unknown setting %q", key)
	}
	settings := b.deps.Stores.Settings
	p, err := settings.Policy(ctx)
	if err != nil {
		return domain.Policy{}, err
	}
	enable := !storage.PolicyValue(p, key)

	if key == storage.KeyUseProxy && b.deps.Proxies != nil {
		if enable {
			list, err := proxy.LoadFile(b.opts.ProxiesFile)
			if err != nil {
				return p, err
			}
			b.deps.Proxies.Set(list)
			logger.Info(ctx, "bot", "proxies.loaded", slog.Int("proxies", len(list)))
		} else {
			b.deps.Proxies.Clear()
		}
	}
	if err := settings.Set(ctx, key, enable); err != nil {
		return p, err
	}
	return settings.Policy(ctx)
}

func (b *Bot) handleSettingToggle(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	key := callbacks.CallbackPayload(c)
	p, err := b.toggleSetting(ctx, key)
	if err != nil {
		logger.Warn(ctx, "bot", "setting.toggle_failed", slog.String("key", key), logger.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf(textToggleFail, err), ShowAlert: true})
	}
	logger.Info(ctx, "bot", "setting.toggled", slog.String("key", key), slog.Bool("value", storage.PolicyValue(p, key)))
	return tghelpers.EditOrSendMD(c, settingsText(p), settingsMarkup(p))
}

func (b *Bot) handleInfoUser(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	err := b.deps.Machine.Begin(ctx, senderID(c), domain.StepAdminInput)
	if errors.Is(err, onboarding.ErrFlowActive) {
		return tghelpers.SendText(c, textBusy)
	}
	if err != nil {
		return err
	}
	return tghelpers.SendText(c, textAskUserID)
}

func (b *Bot) handlePermToggle(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: textBadUserID})
	}
	info, err := b.togglePermission(ctx, userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return c.Respond(&tele.CallbackResponse{Text: textUnknownUser})
	}
	if err != nil {
		return err
	}
	return tghelpers.EditOrSendMD(c, userInfoText(info), permMarkup(info.User))
}

func (b *Bot) togglePermission(ctx context.Context, userID int64) (userInfo, error) {
	u, err := b.deps.Stores.Users.Get(ctx, userID)
	if err != nil {
		return userInfo{}, err
	}
	if err := b.deps.Stores.Users.SetAllowed(ctx, userID, !u.Allowed); err != nil {
		return userInfo{}, err
	}
	logger.Info(ctx, "bot", "user.permission", slog.Int64("target", userID), slog.Bool("allowed", !u.Allowed))
	return b.userInfo(ctx, userID)
}

type stats struct {
	Users    int
	Accounts domain.AccountCounts
	Flows    int
	Proxies  int
	Devices  int
}

func (b *Bot) collectStats(ctx context.Context) (stats, error) {
	var s stats
	var err error
	if s.Users, err = b.deps.Stores.Users.Count(ctx); err != nil {
		return s, err
	}
	if s.Accounts, err = b.deps.Stores.Accounts.Count(ctx); err != nil {
		return s, err
	}
	s.Flows = b.deps.Sessions.Len()
	if b.deps.Proxies != nil {
		s.Proxies = b.deps.Proxies.Count()
	}
	if b.deps.Devices != nil {
		s.Devices = b.deps.Devices.Len()
	}
	return s, nil
}

func (b *Bot) handleStats(c tele.Context) error {
	s, err := b.collectStats(tghelpers.BuildContext(c))
	if err != nil {
		return err
	}
	return tghelpers.SendText(c, fmt.Sprintf(
		"📊 Users: %d\nAccounts: %d provisioned, %d downloaded\nActive flows: %d\nProxies: %d\nDevices: %d",
		s.Users, s.Accounts.Provisioned, s.Accounts.Claimed, s.Flows, s.Proxies, s.Devices))
}
