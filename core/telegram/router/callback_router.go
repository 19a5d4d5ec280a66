package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/receiverbot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// CallbackRoute routes every callback through the registry by its unique key.
// The global middleware chain already wraps it.
func CallbackRoute(reg *tg.Registry) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}
		key := callbackKey(c.Callback())
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		h, ok := reg.GetCallback(key)
		if !ok {
			h = reg.CallbackNotFound()
			extras = append(extras, slog.String("reason", "not_found"))
		} else {
			// acknowledge so the client stops its spinner; handlers may still respond with text
			defer func() { _ = c.Respond() }()
		}
		return handleWithSummary(c, name, start, func() error {
			if h == nil {
				return nil
			}
			return h(c)
		}, extras...)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: handler}
}
