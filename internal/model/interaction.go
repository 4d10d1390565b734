package model

import (
	"fmt"
	"strings"
)

// Interaction is one normalized inbound user action, built from either a
// plain message or a callback press. Parsing happens once at construction;
// the flow layer only reads the derived fields.
type Interaction struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string

	// MessageID is the id of the message that originated a callback press,
	// 0 for plain messages.
	MessageID int64

	// CallbackID identifies the callback press towards the platform, so it
	// can be answered. Empty for plain messages.
	CallbackID string
	IsCallback bool

	// Text is the original input: callback data for presses, message text or
	// the dice value for plain messages.
	Text string

	// PhotoID is the file id of the largest photo attached to the message.
	PhotoID string

	// PickedChoice is set when the input text is serialized choice callback
	// data.
	PickedChoice *Choice

	// Command is the slash command parsed out of the input; its IsValid flag
	// reflects the registered command names.
	Command *Command

	notice   strings.Builder
	answered bool
}

// ParseInteraction normalizes an inbound action and parses any embedded
// choice and command. botName is used to reject commands addressed to other
// bots; commandNames is the registered command set.
func ParseInteraction(in Interaction, botName string, commandNames []string) *Interaction {
	out := in
	out.Command = &Command{}
	out.parseCommand(botName, commandNames)
	return &out
}

func (in *Interaction) parseCommand(botName string, commandNames []string) {
	inputText := in.Text
	if strings.TrimSpace(inputText) == "" {
		return
	}

	in.PickedChoice = ParseCallbackData(inputText)
	if in.PickedChoice != nil {
		inputText = in.PickedChoice.Value
	}

	inputText = strings.TrimPrefix(inputText, "/")
	if strings.TrimSpace(inputText) == "" {
		return
	}

	parts := strings.Fields(inputText)
	if len(parts) == 0 {
		return
	}

	// parts[0] is the command name; trailing parts are either a base64
	// name=value&... block or plain positional parameters.
	for i := 1; i < len(parts); i++ {
		unesc := FromBase64(parts[i])
		if strings.ContainsRune(unesc, paramsAndSep) && strings.ContainsRune(unesc, paramsEqualSep) {
			in.Command.AddParameters(unesc)
		} else {
			in.Command.AddParameter(fmt.Sprintf("%d", i), parts[i])
		}
	}

	command := parts[0]
	if in.PickedChoice != nil {
		command = in.PickedChoice.Value
	}

	// A command may carry an @botname suffix. Only an exact trailing match is
	// ours; @botnameXYZ belongs to a different bot.
	suffix := "@" + botName
	if idx := strings.Index(command, suffix); idx != -1 {
		if strings.HasSuffix(command, suffix) {
			command = command[:idx]
			in.Command.IsValid = true
		} else {
			in.Command.IsValid = false
			in.Command.IsForAnotherBot = true
		}
	} else {
		in.Command.IsValid = true
	}

	if in.Command.IsValid && !strings.EqualFold(command, StartCommand) && !strings.EqualFold(command, StartGroupCommand) {
		in.Command.IsValid = false
		for _, name := range commandNames {
			if strings.EqualFold(name, command) {
				in.Command.IsValid = true
				break
			}
		}
	}

	in.Command.Name = command
}

// HasCommand reports whether the interaction parsed into a non-empty command
// name, valid or not.
func (in *Interaction) HasCommand() bool {
	return in.Command != nil && in.Command.Name != ""
}

// AddNotice accumulates a line of feedback to show the user when the
// interaction is acknowledged.
func (in *Interaction) AddNotice(msg string) {
	if msg == "" {
		return
	}
	in.notice.WriteString(msg)
	in.notice.WriteString("\n")
}

// Notice returns the accumulated feedback text.
func (in *Interaction) Notice() string { return in.notice.String() }

// ClearNotice drops the accumulated feedback.
func (in *Interaction) ClearNotice() { in.notice.Reset() }

// MarkAnswered records that the callback press was acknowledged towards the
// platform; Answered prevents double acknowledgement.
func (in *Interaction) MarkAnswered() { in.answered = true }

// Answered reports whether the callback press was already acknowledged.
func (in *Interaction) Answered() bool { return in.answered }

func (in *Interaction) String() string {
	return fmt.Sprintf("%d|%d|%t|%s|%s", in.UserID, in.ChatID, in.IsCallback, in.Text, in.Command)
}
