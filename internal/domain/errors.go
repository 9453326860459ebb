package domain

import "fmt"

// DuplicateMatchError is returned when a ledger row for (entity, event)
// already exists. The existing row is never overwritten.
type DuplicateMatchError struct {
	EntityID    string
	EventNumber int
}

func (e *DuplicateMatchError) Error() string {
	return fmt.Sprintf("match for entity %s event %d already recorded", e.EntityID, e.EventNumber)
}

// InvalidMatchError is returned for submissions rejected at the boundary.
type InvalidMatchError struct {
	Field  string
	Reason string
}

func (e *InvalidMatchError) Error() string {
	return fmt.Sprintf("invalid match: %s: %s", e.Field, e.Reason)
}

// InconsistentSummaryError flags an entity whose ledger or derived counts
// do not reconcile. It is reported for manual review, never auto-fixed.
type InconsistentSummaryError struct {
	EntityID string
	Detail   string
}

func (e *InconsistentSummaryError) Error() string {
	return fmt.Sprintf("inconsistent summary for entity %s: %s", e.EntityID, e.Detail)
}

// FormulaDomainError is returned when the score formula or the aggregate
// step receives input outside its domain, e.g. negative counts.
type FormulaDomainError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FormulaDomainError) Error() string {
	return fmt.Sprintf("formula input %s=%v: %s", e.Field, e.Value, e.Reason)
}
