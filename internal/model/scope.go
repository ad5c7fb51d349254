package model

import "strings"

// Scope selects which occurrences an edit or delete applies to.
type Scope int

const (
	ScopeInstanceOnly Scope = iota + 1
	ScopeThisAndFuture
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeInstanceOnly:
		return "instanceOnly"
	case ScopeThisAndFuture:
		return "thisAndFuture"
	case ScopeAll:
		return "all"
	}
	return "unknown"
}

// Valid reports whether s is one of the three known scopes.
func (s Scope) Valid() bool {
	return s >= ScopeInstanceOnly && s <= ScopeAll
}

// ParseScope accepts camelCase, snake_case and kebab-case spellings.
func ParseScope(v string) (Scope, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(v))
	switch key {
	case "instanceonly", "instance", "this":
		return ScopeInstanceOnly, nil
	case "thisandfuture", "future":
		return ScopeThisAndFuture, nil
	case "all":
		return ScopeAll, nil
	}
	return 0, NewValidationError(ErrUnknownScope, "scope", "unrecognized scope "+v)
}
