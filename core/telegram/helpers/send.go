package helpers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/m3rciful/receiverbot/core/logger"
	"github.com/m3rciful/receiverbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	err := disp.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			logger.Err(err),
		)
		return run()
	}
	return err
}

// SendText sends raw text (no parse mode) to the current recipient.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	return enqueue(BuildContext(c), "send.text", "sendMessage", func() error {
		if sendOpts != nil {
			return c.Send(text, sendOpts)
		}
		return c.Send(text)
	})
}

// SendMD sends a message with Markdown parse mode and optional reply markup.
func SendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return SendText(c, text, opts)
}

// EditOrSendMD edits the callback message (Markdown) or sends a new one.
func EditOrSendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return c.EditOrSend(text, opts)
}

// SendDocument sends doc synchronously; the caller needs the outcome.
func SendDocument(c tele.Context, doc *tele.Document, opts ...interface{}) error {
	return c.Send(doc, opts...)
}

// Recipient addresses a user by id outside an update.
type Recipient int64

// Recipient implements tele.Recipient.
func (r Recipient) Recipient() string {
	return strconv.FormatInt(int64(r), 10)
}

// Notify sends text to userID through the dispatcher, so it is retried on
// transient failures without blocking the caller.
func Notify(ctx context.Context, bot tele.API, userID int64, text string, opts ...interface{}) error {
	if bot == nil {
		return errors.New("helpers: nil bot")
	}
	return enqueue(logger.WithUser(ctx, userID), "notify", "sendMessage", func() error {
		_, err := bot.Send(Recipient(userID), text, opts...)
		return err
	})
}
