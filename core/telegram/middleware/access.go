package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/receiverbot/core/logger"
	tghelpers "github.com/m3rciful/receiverbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	IsAdmin  func(userID int64) bool
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only admins reach downstream handlers.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.IsAdmin != nil && c.Sender() != nil && opts.IsAdmin(c.Sender().ID) {
				return next(c)
			}
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}

// AccessOptions configures AccessMiddleware.
type AccessOptions struct {
	// Allowed decides whether userID may use the bot.
	Allowed  func(ctx context.Context, userID int64) (bool, error)
	OnReject tele.HandlerFunc
}

// AccessMiddleware rejects senders that Allowed refuses. Lookup errors are
// logged and treated as a rejection.
func AccessMiddleware(opts AccessOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.Allowed == nil || c.Sender() == nil {
				return next(c)
			}
			ctx := tghelpers.BuildContext(c)
			ok, err := opts.Allowed(ctx, c.Sender().ID)
			if err != nil {
				logger.Error(ctx, "tg", "access.check_failed", logger.Err(err))
			}
			if ok {
				return next(c)
			}
			logger.Debug(ctx, "tg", "access.denied", slog.String("status", "skip"))
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
