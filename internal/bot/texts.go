package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/telegram/format"
	"github.com/m3rciful/receiverbot/core/telegram/keyboard"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/onboarding"
	"github.com/m3rciful/receiverbot/internal/storage"
)

const (
	cbClaim   = "claim"
	cbSetting = "setting"
	cbPerm    = "perm"
	cbCancel  = "flow"
	cbJoined  = "joined"
)

const (
	textStart = "👋 Send a phone number in international format, e.g. `+15551234567`, to register a new account.\n" +
		"Use /sessions to download your accounts and /cancel to stop."
	textDenied       = "⛔ You are not allowed to use this bot yet."
	textAdminOnly    = "⛔ This command is for admins."
	textSlowDown     = "⏳ Too many messages, slow down."
	textAskUserID    = "🔎 Send the numeric user id."
	textBadUserID    = "⚠️ That is not a user id."
	textUnknownUser  = "⚠️ This user never started the bot."
	textBusy         = "⚠️ Finish or /cancel the current operation first."
	textNoAccounts   = "You have no accounts yet."
	textClaimed      = "📦 Credentials for %s."
	textClaimGone    = "This account was already downloaded."
	textClaimMissing = "Account not found."
	textFileMissing  = "⚠️ The credential file is missing, contact an admin."
	textToggleFail   = "⚠️ Could not change the setting: %s"
	textGeneric      = "⚠️ Something went wrong, please try again."
	textJoinFirst    = "📢 Join these channels to use the bot:"
	textStillMissing = "You have not joined every channel yet."
)

var outcomeTexts = map[onboarding.Outcome]string{
	onboarding.OutcomeInvalidPhone:     "⚠️ This does not look like a phone number. Use the international format, e.g. `+15551234567`.",
	onboarding.OutcomeAlreadyExists:    "ℹ️ %s is already registered.",
	onboarding.OutcomeCodeSent:         "📨 A login code was sent to %s. Send the 5-digit code.",
	onboarding.OutcomeInvalidCode:      "⚠️ The code must be exactly 5 digits.",
	onboarding.OutcomeCodeRetry:        "❌ Wrong code, try again.",
	onboarding.OutcomePasswordRequired: "🔐 %s has two-step verification. Send the password.",
	onboarding.OutcomePasswordRetry:    "❌ Wrong password, try again.",
	onboarding.OutcomeRetryLater:       "⏳ Connection problem, send the same input again in a moment.",
	onboarding.OutcomeRateLimited:      "⏳ Too many attempts for %s. Try later.",
	onboarding.OutcomeBanned:           "🚫 %s is banned.",
	onboarding.OutcomeRevoked:          "⌛ The login for %s expired. Send the number again.",
	onboarding.OutcomeFrozen:           "🧊 %s is frozen.",
	onboarding.OutcomeLimited:          "🚫 %s is limited and was not saved.",
	onboarding.OutcomeTryAgain:         textGeneric,
	onboarding.OutcomeSuccess:          "✅ %s was registered.",
	onboarding.OutcomeCancelled:        "Cancelled.",
}

// render turns a flow reply into the message text and optional markup.
func render(r onboarding.Reply) (string, *tele.ReplyMarkup) {
	if r.Outcome == onboarding.OutcomeStep {
		return renderDetail(r.Detail)
	}
	tmpl, ok := outcomeTexts[r.Outcome]
	if !ok {
		return textGeneric, nil
	}
	text := tmpl
	if strings.Contains(tmpl, "%s") {
		phone := r.Phone
		if phone == "" {
			phone = "This number"
		}
		text = fmt.Sprintf(tmpl, format.Code(phone))
	}

	switch r.Outcome {
	case onboarding.OutcomeSuccess:
		return text, keyboard.InlineButtonsRows([]keyboard.InlineBtn{
			{Text: "⬇️ Download", Unique: cbClaim, Data: r.AccountID.String()},
		})
	case onboarding.OutcomeCodeSent, onboarding.OutcomePasswordRequired:
		return text, keyboard.SingleCancelMarkup(cbCancel)
	}
	return text, nil
}

func timeoutText(kind domain.StepKind) string {
	if kind == domain.StepAdminInput {
		return "⌛ The lookup timed out."
	}
	return "⌛ No answer in time, the registration was cancelled. Send the number again to restart."
}

type userInfo struct {
	User   domain.ChatUser
	Counts domain.AccountCounts
}

func renderDetail(detail any) (string, *tele.ReplyMarkup) {
	switch d := detail.(type) {
	case string:
		return d, nil
	case userInfo:
		return userInfoText(d), permMarkup(d.User)
	}
	return textGeneric, nil
}

func userInfoText(info userInfo) string {
	status := "allowed"
	if !info.User.Allowed {
		status = "blocked"
	}
	return fmt.Sprintf("👤 User %s\nStatus: %s\nSince: %s\nProvisioned: %d\nDownloaded: %d",
		format.Code(fmt.Sprint(info.User.UserID)), status,
		info.User.CreatedAt.Format("2006-01-02"),
		info.Counts.Provisioned, info.Counts.Claimed)
}

func permMarkup(u domain.ChatUser) *tele.ReplyMarkup {
	label := "🚫 Block"
	if !u.Allowed {
		label = "✅ Allow"
	}
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{{Text: label, Unique: cbPerm, Data: fmt.Sprint(u.UserID)}})
}

var settingLabels = map[string]string{
	storage.KeyUseProxy:       "Proxy",
	storage.KeyUseChangeBio:   "Change bio",
	storage.KeyUseCheckReport: "Check report",
	storage.KeyUseLogCLI:      "Protocol log",
}

func settingsText(p domain.Policy) string {
	var b strings.Builder
	b.WriteString("⚙️ *Settings*\n")
	for _, key := range storage.SettingKeys {
		mark := "❌"
		if storage.PolicyValue(p, key) {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, settingLabels[key])
	}
	return b.String()
}

func settingsMarkup(p domain.Policy) *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(storage.SettingKeys))
	for _, key := range storage.SettingKeys {
		verb := "Enable"
		if storage.PolicyValue(p, key) {
			verb = "Disable"
		}
		btns = append(btns, keyboard.InlineBtn{Text: verb + " " + strings.ToLower(settingLabels[key]), Unique: cbSetting, Data: key})
	}
	return keyboard.InlineButtonsNPerRow(btns, 2)
}

func accountsText(list []domain.AccountRecord) string {
	if len(list) == 0 {
		return textNoAccounts
	}
	var b strings.Builder
	b.WriteString("📱 *Your accounts*\n")
	for _, a := range list {
		fmt.Fprintf(&b, "%s %s %s\n", format.Code(a.Phone()), a.Status, a.RegisteredOn.Format("2006-01-02"))
	}
	return b.String()
}

func accountsMarkup(list []domain.AccountRecord) *tele.ReplyMarkup {
	var btns []keyboard.InlineBtn
	for _, a := range list {
		if a.Status == domain.AccountProvisioned {
			btns = append(btns, keyboard.InlineBtn{Text: "⬇️ " + a.Phone(), Unique: cbClaim, Data: a.ID.String()})
		}
	}
	if len(btns) == 0 {
		return nil
	}
	return keyboard.InlineButtonsNPerRow(btns, 1)
}
