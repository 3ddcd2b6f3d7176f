package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devzone-it/media-fetch-bot/internal/gate"
	"github.com/devzone-it/media-fetch-bot/internal/ledger"
)

func TestSubscribeKeyboard(t *testing.T) {
	kb := SubscribeKeyboard([]string{"@one", "@two"})
	require.Len(t, kb.InlineKeyboard, 3)

	first := kb.InlineKeyboard[0][0]
	require.NotNil(t, first.URL)
	assert.Equal(t, "https://t.me/one", *first.URL)
	assert.Contains(t, first.Text, "@one")

	second := kb.InlineKeyboard[1][0]
	require.NotNil(t, second.URL)
	assert.Equal(t, "https://t.me/two", *second.URL)

	check := kb.InlineKeyboard[2][0]
	require.NotNil(t, check.CallbackData)
	assert.Equal(t, gate.CheckCallback, *check.CallbackData)
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "Медиа", Caption("   "))
	assert.Equal(t, "Title", Caption(" Title "))

	long := strings.Repeat("я", 2000)
	c := Caption(long)
	assert.Equal(t, maxCaptionRunes, utf8.RuneCountInString(c))
	assert.True(t, strings.HasSuffix(c, "…"))
}

func TestHelpShowsLimit(t *testing.T) {
	assert.Contains(t, Help(2*1024*1024*1024), "2.0 GiB")
}

func TestStats(t *testing.T) {
	assert.Contains(t, UserStats(ledger.User{Downloads: 1234, Registered: "2025-01-01 00:00:00"}), "1,234")
	assert.Contains(t, GlobalStats(ledger.Stats{Users: 10, Downloads: 2500}), "2,500")
}
