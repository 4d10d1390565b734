package model

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// Values of the fixed navigation choices shared by every question. They are
// compared by value, case-insensitively, never by instance.
const (
	CancelValue          = "__Cancel__"
	SkipValue            = "__Skip__"
	BackValue            = "__Back__"
	PayValue             = "__Pay__"
	PrevPageValue        = "__PrevPage__"
	CurrPageValue        = "__CurrPage__"
	NextPageValue        = "__NextPage__"
	NewKeyboardLineValue = "__NewKeyboardLine__"
)

var systemValues = []string{
	CancelValue, SkipValue, BackValue, PayValue,
	PrevPageValue, CurrPageValue, NextPageValue,
}

// Choice is one selectable option offered for a question. Identity is the
// value alone; label and param are presentation only.
type Choice struct {
	Label      string `json:"l,omitempty"`
	Value      string `json:"v"`
	Param      string `json:"p,omitempty"`
	QuestionID int64  `json:"q,omitempty"`
}

// NewChoice builds a choice with distinct label and value. The value is the
// wire-level token and must not be empty.
func NewChoice(label, value string) (Choice, error) {
	if value == "" {
		return Choice{}, errors.New("choice value cannot be empty")
	}
	return Choice{Label: label, Value: value}, nil
}

// PlainChoice builds a choice whose label and value are the same string.
func PlainChoice(value string) (Choice, error) {
	return NewChoice(value, value)
}

// CancelChoice returns a fresh Cancel navigation choice.
func CancelChoice() Choice { return Choice{Label: "Home", Value: CancelValue} }

// SkipChoice returns a fresh Skip navigation choice.
func SkipChoice() Choice { return Choice{Label: "Skip", Value: SkipValue} }

// BackChoice returns a fresh Back navigation choice.
func BackChoice() Choice { return Choice{Label: "Back", Value: BackValue} }

// PayChoice returns a fresh Pay choice.
func PayChoice() Choice { return Choice{Label: "Pay", Value: PayValue} }

// PrevPageChoice returns a fresh previous-page choice.
func PrevPageChoice() Choice { return Choice{Label: "Prev. Page", Value: PrevPageValue} }

// CurrPageChoice returns a fresh current-page choice. The label is formatted
// with the page number held in Param.
func CurrPageChoice() Choice { return Choice{Label: "Page {0}", Value: CurrPageValue} }

// NextPageChoice returns a fresh next-page choice.
func NextPageChoice() Choice { return Choice{Label: "Next. Page", Value: NextPageValue} }

// NewKeyboardLine is a hint for the keyboard builder: it is never rendered,
// it forces the following choices onto a new row. It is not a system choice.
func NewKeyboardLine() Choice { return Choice{Value: NewKeyboardLineValue} }

// IsSystem reports whether the choice is one of the fixed navigation
// primitives (Cancel, Skip, Back, Pay, page navigation).
func (c Choice) IsSystem() bool {
	for _, v := range systemValues {
		if strings.EqualFold(c.Value, v) {
			return true
		}
	}
	return false
}

// Is compares the choice against a system value, case-insensitively.
func (c Choice) Is(value string) bool {
	return strings.EqualFold(c.Value, value)
}

// EqualValue reports value equality with another choice, case-insensitively.
// Label and param are not part of identity.
func (c Choice) EqualValue(other Choice) bool {
	return strings.EqualFold(c.Value, other.Value)
}

// IsURL reports whether the value parses as an absolute URL, in which case
// the choice renders as a link button.
func (c Choice) IsURL() bool {
	u, err := url.Parse(c.Value)
	return err == nil && u.IsAbs()
}

// DisplayLabel returns the label with the param substituted into the "{0}"
// placeholder when both are present.
func (c Choice) DisplayLabel() string {
	if c.Param != "" && c.Label != "" {
		return strings.ReplaceAll(c.Label, "{0}", c.Param)
	}
	return c.Label
}

// The value of a choice travels inside callback data where space and
// underscore act as structural separators, so both are escaped before
// serialization.
const (
	paramsSpaceSep = ' '
	paramsUnderSep = '_'
	escapedSpace   = '\t'
	escapedUnder   = '\x1b'
)

// EscapeValue makes a choice value safe for the callback wire format.
func EscapeValue(value string) string {
	r := strings.NewReplacer(
		string(paramsSpaceSep), string(escapedSpace),
		string(paramsUnderSep), string(escapedUnder),
	)
	return r.Replace(value)
}

// UnescapeValue reverses EscapeValue.
func UnescapeValue(value string) string {
	r := strings.NewReplacer(
		string(escapedSpace), string(paramsSpaceSep),
		string(escapedUnder), string(paramsUnderSep),
	)
	return r.Replace(value)
}

// CallbackData serializes the choice for transport: the label is omitted and
// the value escaped so it survives the callback wire format.
func (c Choice) CallbackData() string {
	wire := Choice{Value: EscapeValue(c.Value), Param: c.Param, QuestionID: c.QuestionID}
	b, err := json.Marshal(wire)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseCallbackData reverses CallbackData. It returns nil when the input is
// not a serialized choice (e.g. plain text typed by the user).
func ParseCallbackData(data string) *Choice {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "{") {
		return nil
	}
	var c Choice
	if err := json.Unmarshal([]byte(data), &c); err != nil || c.Value == "" {
		return nil
	}
	c.Value = UnescapeValue(c.Value)
	return &c
}
