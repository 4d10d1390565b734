package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"
)

// Constraint is a typed validation rule for a question's expected value.
// Validate is total: a value that does not parse for the constraint's type is
// invalid, never an error.
type Constraint interface {
	FieldType() FieldType
	Validate(value string) bool
}

// ConstraintForType derives the default constraint for a field type, or nil
// for FieldNone and FieldString-less unknown types.
func ConstraintForType(t FieldType) Constraint {
	switch t {
	case FieldBool:
		return &BoolConstraint{}
	case FieldInt:
		return &IntConstraint{}
	case FieldString:
		return &StringConstraint{}
	case FieldDateTime:
		return &DateTimeConstraint{}
	case FieldDouble:
		return &DoubleConstraint{}
	case FieldDecimal:
		return &DecimalConstraint{}
	}
	return nil
}

// BoolConstraint accepts boolean values, optionally pinned to an exact one.
type BoolConstraint struct {
	Exact *bool `json:"exact,omitempty"`
}

func (c *BoolConstraint) FieldType() FieldType { return FieldBool }

func (c *BoolConstraint) Validate(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return c.Exact == nil || *c.Exact == b
}

// IntConstraint bounds an integer value.
type IntConstraint struct {
	Min   *int64 `json:"min,omitempty"`
	Max   *int64 `json:"max,omitempty"`
	Exact *int64 `json:"exact,omitempty"`
}

func (c *IntConstraint) FieldType() FieldType { return FieldInt }

func (c *IntConstraint) Validate(value string) bool {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	if c.Min != nil && n < *c.Min {
		return false
	}
	if c.Max != nil && n > *c.Max {
		return false
	}
	if c.Exact != nil && n != *c.Exact {
		return false
	}
	return true
}

// StringConstraint bounds the length of a string and optionally matches it
// against a regular expression.
type StringConstraint struct {
	Min     *int   `json:"min,omitempty"`
	Max     *int   `json:"max,omitempty"`
	Exact   *int   `json:"exact,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

func (c *StringConstraint) FieldType() FieldType { return FieldString }

func (c *StringConstraint) Validate(value string) bool {
	n := len([]rune(value))
	if c.Min != nil && n < *c.Min {
		return false
	}
	if c.Max != nil && n > *c.Max {
		return false
	}
	if c.Exact != nil && n != *c.Exact {
		return false
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}
	return true
}

// DateTimeConstraint bounds a point in time.
type DateTimeConstraint struct {
	Min   *time.Time `json:"min,omitempty"`
	Max   *time.Time `json:"max,omitempty"`
	Exact *time.Time `json:"exact,omitempty"`
}

func (c *DateTimeConstraint) FieldType() FieldType { return FieldDateTime }

func (c *DateTimeConstraint) Validate(value string) bool {
	t, ok := ParseTime(value)
	if !ok {
		return false
	}
	if c.Min != nil && t.Before(*c.Min) {
		return false
	}
	if c.Max != nil && t.After(*c.Max) {
		return false
	}
	if c.Exact != nil && !t.Equal(*c.Exact) {
		return false
	}
	return true
}

// timeLayouts are tried in order when parsing free-text dates.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseTime parses a free-text date/time using a fixed set of layouts.
func ParseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DoubleConstraint bounds a floating point value.
type DoubleConstraint struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Exact *float64 `json:"exact,omitempty"`
}

func (c *DoubleConstraint) FieldType() FieldType { return FieldDouble }

func (c *DoubleConstraint) Validate(value string) bool {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	if c.Min != nil && f < *c.Min {
		return false
	}
	if c.Max != nil && f > *c.Max {
		return false
	}
	if c.Exact != nil && f != *c.Exact {
		return false
	}
	return true
}

// DecimalConstraint bounds an arbitrary-precision decimal value. Bounds are
// kept as strings and compared exactly, without float rounding.
type DecimalConstraint struct {
	Min   *string `json:"min,omitempty"`
	Max   *string `json:"max,omitempty"`
	Exact *string `json:"exact,omitempty"`
}

func (c *DecimalConstraint) FieldType() FieldType { return FieldDecimal }

func (c *DecimalConstraint) Validate(value string) bool {
	n, ok := new(big.Rat).SetString(value)
	if !ok {
		return false
	}
	if c.Min != nil {
		if m, ok := new(big.Rat).SetString(*c.Min); !ok || n.Cmp(m) < 0 {
			return false
		}
	}
	if c.Max != nil {
		if m, ok := new(big.Rat).SetString(*c.Max); !ok || n.Cmp(m) > 0 {
			return false
		}
	}
	if c.Exact != nil {
		if m, ok := new(big.Rat).SetString(*c.Exact); !ok || n.Cmp(m) != 0 {
			return false
		}
	}
	return true
}

// ConstraintList is a closed polymorphic set of constraints serialized with a
// type tag, so questions can round-trip their constraints through storage.
type ConstraintList []Constraint

type constraintEnvelope struct {
	Type string          `json:"t"`
	Body json.RawMessage `json:"c"`
}

// MarshalJSON wraps each constraint in an envelope carrying its field type.
func (l ConstraintList) MarshalJSON() ([]byte, error) {
	envs := make([]constraintEnvelope, 0, len(l))
	for _, c := range l {
		body, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		envs = append(envs, constraintEnvelope{Type: c.FieldType().String(), Body: body})
	}
	return json.Marshal(envs)
}

// UnmarshalJSON reverses MarshalJSON. Unknown type tags are an error: the
// constraint family is closed.
func (l *ConstraintList) UnmarshalJSON(data []byte) error {
	var envs []constraintEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(ConstraintList, 0, len(envs))
	for _, env := range envs {
		c := ConstraintForType(FieldTypeFromName(env.Type))
		if c == nil {
			return fmt.Errorf("unknown constraint type %q", env.Type)
		}
		if err := json.Unmarshal(env.Body, c); err != nil {
			return err
		}
		out = append(out, c)
	}
	*l = out
	return nil
}
