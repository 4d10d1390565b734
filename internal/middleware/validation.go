package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateQuestionText validates the display text of a question.
func ValidateQuestionText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("question text cannot be empty")
	}
	if len(text) > 4096 {
		return errors.New("question text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("question text must be valid UTF-8")
	}
	return nil
}

// ValidateChoiceValue validates a choice value.
func ValidateChoiceValue(value string) error {
	if value == "" {
		return errors.New("choice value cannot be empty")
	}
	if len(value) > 64 {
		return errors.New("choice value exceeds maximum length")
	}
	if !utf8.ValidString(value) {
		return errors.New("choice value must be valid UTF-8")
	}
	return nil
}

// ValidateUserID validates a chat platform user id.
func ValidateUserID(id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	return nil
}

// ValidateCommandName validates a registered command name.
func ValidateCommandName(name string) error {
	if name == "" {
		return errors.New("command name cannot be empty")
	}
	if len(name) > 32 {
		return errors.New("command name exceeds maximum length")
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return errors.New("command name must be lowercase letters, digits or underscores")
		}
	}
	return nil
}
