// Package domain defines Mason's core data model: the Story a task is
// compiled from, the TaskPacket dispatched to providers, and the runtime
// types (provider definitions/state, artifacts, selection context,
// queue/provider statistics) shared between the compiler, registry,
// selector, and execution engine.
package domain

// Story is a unit of unassigned work read from DevBacklog. It is
// immutable within the daemon and consumed only by the TaskCompiler.
type Story struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Narrative          string `json:"narrative"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	EpicID             *int64 `json:"epic_id"`
	Priority           int    `json:"priority"`
	EstPoints          *int   `json:"est_points"`
}
