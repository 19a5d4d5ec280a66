package router

import (
	"time"

	tg "github.com/m3rciful/receiverbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls routing of free text and documents.
type TextOptions struct {
	// Flow receives every text that is not a registered command.
	Flow            tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds the text and document routes. Text that names a command
// or alias is dispatched to it; the rest goes to Flow.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		start := time.Now()
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
		}
		if opts.Flow != nil {
			return handleWithSummary(c, "flow", start, func() error { return opts.Flow(c) })
		}
		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	doc := func(c tele.Context) error {
		start := time.Now()
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", start, func() error {
				return opts.UnknownDocument(c)
			})
		}
		logHandlerSummary(c, "unexpected_document", start, "skip", nil)
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnDocument, Handler: doc},
	}
}
