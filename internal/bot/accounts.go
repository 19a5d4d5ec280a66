package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/core/telegram/callbacks"
	"github.com/m3rciful/receiverbot/core/telegram/format"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/storage"
)

var errFileMissing = errors.New("credential file missing")

func (b *Bot) handleSessions(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := b.deps.Stores.Accounts.ListByOwner(ctx, senderID(c))
	if err != nil {
		return err
	}
	if markup := accountsMarkup(list); markup != nil {
		return tghelpers.SendMD(c, accountsText(list), markup)
	}
	return tghelpers.SendMD(c, accountsText(list))
}

// claimable returns the account and its credential file if userID may
// download it.
func (b *Bot) claimable(ctx context.Context, userID int64, id uuid.UUID) (domain.AccountRecord, string, error) {
	rec, err := b.deps.Stores.Accounts.Get(ctx, id)
	if err != nil {
		return domain.AccountRecord{}, "", err
	}
	if rec.OwnerID != userID {
		return domain.AccountRecord{}, "", storage.ErrAccountNotFound
	}
	if rec.Status != domain.AccountProvisioned {
		return domain.AccountRecord{}, "", storage.ErrAlreadyClaimed
	}
	path := b.deps.Artifacts.Path(rec.Phone())
	if _, err := os.Stat(path); err != nil {
		return domain.AccountRecord{}, "", errFileMissing
	}
	return rec, path, nil
}

func (b *Bot) handleClaim(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	id, err := callbacks.PayloadUUID(c)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: textClaimMissing})
	}
	userID := senderID(c)

	rec, path, err := b.claimable(ctx, userID, id)
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		return c.Respond(&tele.CallbackResponse{Text: textClaimMissing})
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return c.Respond(&tele.CallbackResponse{Text: textClaimGone})
	case errors.Is(err, errFileMissing):
		logger.Error(ctx, "bot", "claim.file_missing", slog.String("account_id", id.String()))
		return c.Respond(&tele.CallbackResponse{Text: textFileMissing, ShowAlert: true})
	case err != nil:
		return err
	}

	doc := &tele.Document{
		File:     tele.FromDisk(path),
		FileName: filepath.Base(path),
		Caption:  fmt.Sprintf(textClaimed, format.Code(rec.Phone())),
	}
	if err := tghelpers.SendDocument(c, doc, tele.ModeMarkdown); err != nil {
		return err
	}
	if err := b.deps.Stores.Accounts.MarkClaimed(ctx, id, userID); err != nil && !errors.Is(err, storage.ErrAlreadyClaimed) {
		return err
	}
	logger.Info(ctx, "bot", "account.claimed", slog.String("account_id", id.String()))
	return nil
}
