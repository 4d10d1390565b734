package model

import (
	"time"
)

// Question is one prompt within a survey. IsCompleted is derived state: it
// flips true exactly when the most recent answer satisfies the constraint
// set, and is cleared again when the question is reopened.
type Question struct {
	ID       int64
	SurveyID int64

	// InternalID correlates the same logical question across re-asks and
	// follow-ups; 0 means the question is asked once.
	InternalID int

	FieldType              FieldType
	PickOnlyDefaultAnswers bool
	IsCompleted            bool
	IsMandatory            bool
	ExpectsCommand         bool
	CreatedAt              time.Time

	Text              string
	FollowUp          string
	FollowUpSeparator string
	ImageURL          string

	DisableWebPagePreview bool
	MaxButtonsPerRow      int

	// HandlerTag names the persistent handler instance that receives every
	// event addressed to this question; EventHook names a second, hook-style
	// handler target. Both are tags resolved through the dispatcher registry,
	// so they survive serialization.
	HandlerTag string
	EventHook  string

	choices     []Choice
	constraints ConstraintList
	answers     []*Answer
}

// NewQuestion builds an empty question with the given internal id.
func NewQuestion(internalID int, now time.Time) *Question {
	return &Question{InternalID: internalID, FieldType: FieldNone, CreatedAt: now}
}

// Choices returns the offered default choices in order.
func (q *Question) Choices() []Choice {
	out := make([]Choice, len(q.choices))
	copy(out, q.choices)
	return out
}

// Constraints returns the active constraint set.
func (q *Question) Constraints() ConstraintList { return q.constraints }

// Answers returns the recorded answers in order.
func (q *Question) Answers() []*Answer {
	out := make([]*Answer, len(q.answers))
	copy(out, q.answers)
	return out
}

// LastAnswer returns the most recent answer, or nil.
func (q *Question) LastAnswer() *Answer {
	if len(q.answers) == 0 {
		return nil
	}
	return q.answers[len(q.answers)-1]
}

// DeriveConstraint adds the default constraint for the question's field type
// unless one of that type is already present.
func (q *Question) DeriveConstraint() {
	if q.FieldType == FieldNone {
		return
	}
	for _, c := range q.constraints {
		if c.FieldType() == q.FieldType {
			return
		}
	}
	if c := ConstraintForType(q.FieldType); c != nil {
		q.constraints = append(q.constraints, c)
	}
}

// AddConstraints appends caller-supplied constraints.
func (q *Question) AddConstraints(cs ...Constraint) {
	q.constraints = append(q.constraints, cs...)
}

// AddChoice appends a default choice. Domain choices that fail the question's
// constraints are dropped; navigation choices and the keyboard-line hint are
// always accepted.
func (q *Question) AddChoice(c Choice) bool {
	if c.Value == "" {
		return false
	}
	if !c.Is(NewKeyboardLineValue) && !c.IsSystem() {
		for _, constraint := range q.constraints {
			if !constraint.Validate(c.Value) {
				return false
			}
		}
	}
	q.choices = append(q.choices, c)
	return true
}

// AddChoices appends a list of default choices, applying the AddChoice rules
// to each.
func (q *Question) AddChoices(cs []Choice) {
	for _, c := range cs {
		q.AddChoice(c)
	}
}

// RemoveChoice drops every choice with the given value.
func (q *Question) RemoveChoice(value string) {
	kept := q.choices[:0]
	for _, c := range q.choices {
		if c.Value != value {
			kept = append(kept, c)
		}
	}
	q.choices = kept
}

// UpdateChoiceLabel relabels the first choice with the given value.
func (q *Question) UpdateChoiceLabel(value, label string) {
	for i := range q.choices {
		if q.choices[i].Value == value {
			q.choices[i].Label = label
			return
		}
	}
}

// ClearChoices removes the default choices; with keepSystem set, navigation
// choices survive.
func (q *Question) ClearChoices(keepSystem bool) {
	if !keepSystem {
		q.choices = nil
		return
	}
	kept := q.choices[:0]
	for _, c := range q.choices {
		if c.IsSystem() {
			kept = append(kept, c)
		}
	}
	q.choices = kept
}

// DomainChoices returns the offered choices that are not navigation
// primitives.
func (q *Question) DomainChoices() []Choice {
	var out []Choice
	for _, c := range q.choices {
		if !c.IsSystem() {
			out = append(out, c)
		}
	}
	return out
}

// StampChoices writes the question's storage id into every offered choice, so
// callbacks can be correlated back to it.
func (q *Question) StampChoices() {
	for i := range q.choices {
		q.choices[i].QuestionID = q.ID
	}
}

// AddAnswer records an answer, re-enforces its constraints and derives
// IsCompleted from the result. Answers bound to another question are ignored.
func (q *Question) AddAnswer(a *Answer) *Answer {
	if a == nil || a.question != q {
		return nil
	}
	for _, existing := range q.answers {
		if existing == a {
			return nil
		}
	}
	q.answers = append(q.answers, a)
	q.IsCompleted = a.EnforceConstraints()
	return a
}

// AddTextAnswer records a raw text answer. If the text is serialized choice
// callback data it is treated as a picked choice.
func (q *Question) AddTextAnswer(text string, now time.Time) *Answer {
	var a *Answer
	if choice := ParseCallbackData(text); choice != nil {
		a = NewChoiceAnswer(q, *choice, now)
	} else {
		a = NewAnswer(q, text, now)
	}
	return q.AddAnswer(a)
}

// SetChoices replaces the choice list wholesale, bypassing constraint checks.
// Used when restoring a question from storage.
func (q *Question) SetChoices(cs []Choice) { q.choices = cs }

// SetConstraints replaces the constraint set. Used when restoring a question
// from storage.
func (q *Question) SetConstraints(cs ConstraintList) { q.constraints = cs }

// SetAnswers replaces the answer list and rebinds each answer to this
// question. Used when restoring a question from storage.
func (q *Question) SetAnswers(as []*Answer) {
	q.answers = as
	for _, a := range as {
		a.bind(q)
	}
}
