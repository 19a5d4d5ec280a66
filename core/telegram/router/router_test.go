package router

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/receiverbot/core/telegram"
	"github.com/m3rciful/receiverbot/core/telegram/commands"
)

type codedErr struct{ code string }

func (e codedErr) Error() string   { return "coded" }
func (e codedErr) ErrCode() string { return e.code }

type plainErr struct{}

func (plainErr) Error() string { return "plain" }

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "PHONE_CODE_INVALID", deriveErrorCode(fmt.Errorf("wrap: %w", codedErr{code: "phone_code_invalid"})))
	assert.Equal(t, "PLAINERR", deriveErrorCode(&plainErr{}))
	assert.NotEmpty(t, deriveErrorCode(errors.New("x")))
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "start", normalizeHandlerName("/start"))
	assert.Equal(t, "unknown", normalizeHandlerName("  "))
	assert.Equal(t, "claim_account", normalizeHandlerName("Claim Account"))
}

func TestTextRoutesDispatch(t *testing.T) {
	reg := tg.NewRegistry()
	var hits []string
	require.NoError(t, reg.RegisterCommand("/cancel", commands.Command{
		Description: "cancel",
		Handler:     func(tele.Context) error { hits = append(hits, "cancel"); return nil },
		Aliases:     []string{"stop"},
	}))

	routes := TextRoutes(reg, TextOptions{
		Flow: func(tele.Context) error { hits = append(hits, "flow"); return nil },
	})
	require.Len(t, routes, 2)
	text := routes[0].Handler

	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	for _, in := range []string{"stop", "+15551234"} {
		c := bot.NewContext(tele.Update{ID: 1, Message: &tele.Message{
			Text:   in,
			Sender: &tele.User{ID: 7},
			Chat:   &tele.Chat{ID: 7},
		}})
		require.NoError(t, text(c))
	}
	assert.Equal(t, []string{"cancel", "flow"}, hits)
}
