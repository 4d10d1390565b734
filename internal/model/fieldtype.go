// Package model defines the data structures for the survey engine.
package model

// FieldType tags the kind of value a question expects.
type FieldType int

const (
	FieldNone FieldType = iota
	FieldString
	FieldInt
	FieldBool
	FieldDateTime
	FieldDouble
	FieldDecimal
)

var fieldTypeNames = map[FieldType]string{
	FieldNone:     "none",
	FieldString:   "string",
	FieldInt:      "int",
	FieldBool:     "bool",
	FieldDateTime: "datetime",
	FieldDouble:   "double",
	FieldDecimal:  "decimal",
}

func (t FieldType) String() string {
	if n, ok := fieldTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// FieldTypeFromName maps a lowercase type name back to its tag.
// Unknown names map to FieldNone.
func FieldTypeFromName(name string) FieldType {
	for t, n := range fieldTypeNames {
		if n == name {
			return t
		}
	}
	return FieldNone
}
