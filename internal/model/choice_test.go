package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoiceIdentity(t *testing.T) {
	a, err := NewChoice("Yes please", "yes")
	require.NoError(t, err)
	b, err := NewChoice("Oh yes", "YES")
	require.NoError(t, err)

	assert.True(t, a.EqualValue(b), "identity is value, case-insensitive")

	_, err = NewChoice("label", "")
	assert.Error(t, err)
}

func TestChoiceIsSystem(t *testing.T) {
	assert.True(t, CancelChoice().IsSystem())
	assert.True(t, Choice{Value: "__cancel__"}.IsSystem(), "case-insensitive")
	assert.True(t, PayChoice().IsSystem())
	assert.True(t, NextPageChoice().IsSystem())

	assert.False(t, NewKeyboardLine().IsSystem(), "row break is a layout hint, not navigation")
	plain, _ := PlainChoice("cancel my order")
	assert.False(t, plain.IsSystem())
}

func TestChoiceDisplayLabel(t *testing.T) {
	c := CurrPageChoice()
	c.Param = "3"
	assert.Equal(t, "Page 3", c.DisplayLabel())

	noParam := CurrPageChoice()
	assert.Equal(t, "Page {0}", noParam.DisplayLabel())
}

func TestEscapeValueRoundTrip(t *testing.T) {
	original := "two words_with_underscores"
	escaped := EscapeValue(original)
	assert.NotContains(t, escaped, " ")
	assert.NotContains(t, escaped, "_")
	assert.Equal(t, original, UnescapeValue(escaped))
}

func TestCallbackDataRoundTrip(t *testing.T) {
	c := Choice{Label: "Fancy Label", Value: "pick me_now", Param: "7", QuestionID: 42}

	parsed := ParseCallbackData(c.CallbackData())
	require.NotNil(t, parsed)

	assert.Equal(t, "pick me_now", parsed.Value)
	assert.Equal(t, "7", parsed.Param)
	assert.EqualValues(t, 42, parsed.QuestionID)
	assert.Empty(t, parsed.Label, "labels do not travel")
}

func TestParseCallbackDataRejectsPlainText(t *testing.T) {
	assert.Nil(t, ParseCallbackData("hello there"))
	assert.Nil(t, ParseCallbackData("/start"))
	assert.Nil(t, ParseCallbackData(`{"p":"no value"}`))
	assert.Nil(t, ParseCallbackData("{not json"))
}

func TestChoiceIsURL(t *testing.T) {
	link, _ := PlainChoice("https://example.com/docs")
	assert.True(t, link.IsURL())

	word, _ := PlainChoice("docs")
	assert.False(t, word.IsURL())
}
