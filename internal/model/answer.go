package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Answer is one recorded response to a question. Validity is recomputed from
// the owning question's constraints every time EnforceConstraints runs; it is
// a property of the answer, not a gate on recording it.
type Answer struct {
	IsValid      bool
	Text         string
	GivenAt      time.Time
	PickedChoice *Choice

	question *Question
}

// NewAnswer binds a raw text answer to a question.
func NewAnswer(q *Question, text string, now time.Time) *Answer {
	return &Answer{question: q, Text: text, GivenAt: now}
}

// NewChoiceAnswer binds a picked choice to a question.
func NewChoiceAnswer(q *Question, choice Choice, now time.Time) *Answer {
	return &Answer{question: q, PickedChoice: &choice, GivenAt: now}
}

// NewAnswerFromInteraction builds the answer an inbound interaction carries:
// a picked choice when one was sent, the photo file id for photo messages,
// the literal text otherwise.
func NewAnswerFromInteraction(q *Question, in *Interaction, now time.Time) *Answer {
	if in.PickedChoice != nil {
		return NewChoiceAnswer(q, *in.PickedChoice, now)
	}
	if in.PhotoID != "" {
		return NewAnswer(q, in.PhotoID, now)
	}
	return NewAnswer(q, in.Text, now)
}

// Question returns the question this answer is bound to.
func (a *Answer) Question() *Question { return a.question }

// Value is the effective answer text: a picked domain choice contributes its
// value, a picked navigation choice keeps the literal text for display.
func (a *Answer) Value() string {
	if a.PickedChoice != nil && !a.PickedChoice.IsSystem() && a.PickedChoice.Value != "" {
		return a.PickedChoice.Value
	}
	return a.Text
}

// EnforceConstraints recomputes validity against the owning question's
// current constraint set and the pick-only-defaults rule. An empty answer is
// valid iff the question is not mandatory.
func (a *Answer) EnforceConstraints() bool {
	q := a.question
	if q == nil {
		a.IsValid = false
		return false
	}
	value := a.Value()
	blank := strings.TrimSpace(value) == ""
	if q.IsMandatory && blank {
		a.IsValid = false
		return false
	}
	if !q.IsMandatory && blank {
		a.IsValid = true
		return true
	}
	if q.PickOnlyDefaultAnswers && len(q.choices) > 0 {
		found := false
		for _, c := range q.choices {
			if strings.EqualFold(c.Value, value) {
				found = true
				break
			}
		}
		if !found {
			a.IsValid = false
			return false
		}
	}
	for _, c := range q.constraints {
		if !c.Validate(value) {
			a.IsValid = false
			return false
		}
	}
	a.IsValid = true
	return true
}

// Typed getters deliberately narrow: an invalid answer or a field-type
// mismatch yields the zero value, never an error.

// AsString returns the answer text for string questions.
func (a *Answer) AsString() string {
	if !a.IsValid || a.question == nil || a.question.FieldType != FieldString {
		return ""
	}
	return a.Value()
}

// AsInt returns the parsed value for int questions.
func (a *Answer) AsInt() int64 {
	if !a.IsValid || a.question == nil || a.question.FieldType != FieldInt {
		return 0
	}
	n, _ := strconv.ParseInt(a.Value(), 10, 64)
	return n
}

// AsBool returns the parsed value for bool questions.
func (a *Answer) AsBool() bool {
	if !a.IsValid || a.question == nil || a.question.FieldType != FieldBool {
		return false
	}
	b, _ := strconv.ParseBool(a.Value())
	return b
}

// AsFloat returns the parsed value for double and decimal questions.
func (a *Answer) AsFloat() float64 {
	if !a.IsValid || a.question == nil ||
		(a.question.FieldType != FieldDouble && a.question.FieldType != FieldDecimal) {
		return 0
	}
	f, _ := strconv.ParseFloat(a.Value(), 64)
	return f
}

// AsTime returns the parsed value for datetime questions.
func (a *Answer) AsTime() time.Time {
	if !a.IsValid || a.question == nil || a.question.FieldType != FieldDateTime {
		return time.Time{}
	}
	t, _ := ParseTime(a.Value())
	return t
}

type answerJSON struct {
	IsValid      bool      `json:"v"`
	Text         string    `json:"a,omitempty"`
	GivenAt      time.Time `json:"du"`
	PickedChoice *Choice   `json:"pc,omitempty"`
}

// MarshalJSON stores the effective value, so an answer that came from a
// picked domain choice round-trips as that choice's value.
func (a *Answer) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerJSON{
		IsValid:      a.IsValid,
		Text:         a.Value(),
		GivenAt:      a.GivenAt,
		PickedChoice: a.PickedChoice,
	})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var j answerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	a.IsValid = j.IsValid
	a.Text = j.Text
	a.GivenAt = j.GivenAt
	a.PickedChoice = j.PickedChoice
	return nil
}

// bind re-attaches the answer to its question after deserialization.
func (a *Answer) bind(q *Question) { a.question = q }
