package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineButtonsNPerRow(t *testing.T) {
	buttons := []InlineBtn{
		{Text: "a", Unique: "claim", Data: "1"},
		{Text: "b", Unique: "claim", Data: "2"},
		{Text: "c", Unique: "claim", Data: "3"},
	}
	markup := InlineButtonsNPerRow(buttons, 2)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, "c", markup.InlineKeyboard[1][0].Text)
}

func TestSingleCancelMarkup(t *testing.T) {
	markup := SingleCancelMarkup("flow")
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "flow", markup.InlineKeyboard[0][0].Unique)
}
