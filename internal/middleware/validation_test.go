package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateQuestionText(t *testing.T) {
	assert.NoError(t, ValidateQuestionText("How did we do?"))
	assert.Error(t, ValidateQuestionText(""))
	assert.Error(t, ValidateQuestionText("   \n\t"))
	assert.Error(t, ValidateQuestionText(strings.Repeat("x", 4097)))
	assert.Error(t, ValidateQuestionText("bad\xff"))
}

func TestValidateChoiceValue(t *testing.T) {
	assert.NoError(t, ValidateChoiceValue("red"))
	assert.Error(t, ValidateChoiceValue(""))
	assert.Error(t, ValidateChoiceValue(strings.Repeat("x", 65)))
	assert.Error(t, ValidateChoiceValue("bad\xff"))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID(1))
	assert.Error(t, ValidateUserID(0))
	assert.Error(t, ValidateUserID(-7))
}

func TestValidateCommandName(t *testing.T) {
	assert.NoError(t, ValidateCommandName("feedback"))
	assert.NoError(t, ValidateCommandName("order_status_2"))
	assert.Error(t, ValidateCommandName(""))
	assert.Error(t, ValidateCommandName("Feedback"))
	assert.Error(t, ValidateCommandName("with space"))
	assert.Error(t, ValidateCommandName(strings.Repeat("a", 33)))
}
