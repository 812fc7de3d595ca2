package model

// Dependency operators. The strings are part of the stored and wire format.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpContains   = "contains"
	OpGreater    = "greater_than"
	OpLess       = "less_than"
	OpRegexMatch = "regex_match"
	OpIsEmpty    = "is_empty"
	OpIsNotEmpty = "is_not_empty"
)

var operators = map[string]struct{}{
	OpEquals: {}, OpNotEquals: {}, OpIn: {}, OpNotIn: {}, OpContains: {},
	OpGreater: {}, OpLess: {}, OpRegexMatch: {}, OpIsEmpty: {}, OpIsNotEmpty: {},
}

// KnownOperator reports whether op is part of the operator vocabulary.
func KnownOperator(op string) bool {
	_, ok := operators[op]
	return ok
}
