package middleware

import (
	tele "gopkg.in/telebot.v4"
)

const (
	keyMessages = "messages"
	keyKeyboard = "kb"
)

// metricsContext counts replies sent by a handler and whether any carried a keyboard.
type metricsContext struct{ tele.Context }

func (m metricsContext) count(opts []interface{}, err error) error {
	if err != nil {
		return err
	}
	n, _ := m.Get(keyMessages).(int)
	m.Set(keyMessages, n+1)
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				m.Set(keyKeyboard, true)
			}
		case *tele.ReplyMarkup:
			if v != nil {
				m.Set(keyKeyboard, true)
			}
		}
	}
	return nil
}

func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Send(what, opts...))
}

func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Reply(what, opts...))
}

func (m metricsContext) Edit(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.Edit(what, opts...))
}

func (m metricsContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.EditOrSend(what, opts...))
}

func (m metricsContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return m.count(opts, m.Context.EditOrReply(what, opts...))
}

// MessageMetricsMiddleware instruments the context with reply counters.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(keyMessages, 0)
		c.Set(keyKeyboard, false)
		return next(metricsContext{Context: c})
	}
}

// GetCounters reads the reply count and keyboard flag.
func GetCounters(c tele.Context) (int, bool) {
	msgs, _ := c.Get(keyMessages).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return msgs, kb
}
