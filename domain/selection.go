package domain

// SelectionContext is the ephemeral, per-task state the ExecutionEngine
// mutates as attempts proceed. It is never persisted; for tasks pulled
// from the retry queue it is reconstructed from QAQueue's retry record.
type SelectionContext struct {
	TaskID            string
	Attempt           int
	MaxAttempts       int
	ProvidersTried    []string
	LastFailureReason string
	IsRetry           bool
}

// Exhausted reports whether the context has used up its attempt budget.
func (c *SelectionContext) Exhausted() bool {
	return c.Attempt >= c.MaxAttempts
}

// MarkTried appends name to ProvidersTried. Duplicates, consecutive or
// not, are kept: the list only grows, and its entries need not be
// unique.
func (c *SelectionContext) MarkTried(name string) {
	c.ProvidersTried = append(c.ProvidersTried, name)
}
