package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/receiverbot/core/telegram/commands"
)

func noop(tele.Context) error { return nil }

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"}))
	require.NoError(t, reg.RegisterCommand("/settings", commands.Command{Handler: noop, Description: "Settings", AdminOnly: true}))
	require.NoError(t, reg.RegisterCommand("/cancel", commands.Command{Handler: noop, Description: "Cancel", Aliases: []string{"stop"}}))

	assert.Error(t, reg.RegisterCommand("start", commands.Command{Handler: noop, Description: "x"}))
	assert.Error(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "dup"}))

	visible := reg.ListCommands(true)
	require.Len(t, visible, 2)
	assert.Equal(t, "/cancel", visible[0].Text)

	key, _, ok := reg.LookupCommand("/stop")
	require.True(t, ok)
	assert.Equal(t, "/cancel", key)

	key, _, ok = reg.LookupCommand("/start payload")
	require.True(t, ok)
	assert.Equal(t, "/start", key)
}

func TestRegistryCallbacks(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCallback("claim", noop))
	assert.Error(t, reg.RegisterCallback("claim", noop))
	assert.Error(t, reg.RegisterCallback("", noop))

	_, ok := reg.GetCallback("claim")
	assert.True(t, ok)
	assert.Equal(t, []string{"claim"}, reg.ListCallbacks())
}
