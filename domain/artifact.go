package domain

// ExecutionStatus is the outcome of one provider invocation.
type ExecutionStatus string

const (
	// StatusSuccess means the task was completed; the engine stops.
	StatusSuccess ExecutionStatus = "success"
	// StatusFailure means the provider ran but the result was bad; it
	// consumes one attempt.
	StatusFailure ExecutionStatus = "failure"
	// StatusProviderFailure means the provider itself could not run the
	// task (rate limit, outage); it does not consume an attempt.
	StatusProviderFailure ExecutionStatus = "provider_failure"
)

// ArtifactBundle is what a provider adapter returns from Generate.
//
// Invariant: IsRateLimit == true implies ExecutionStatus ==
// StatusProviderFailure.
type ArtifactBundle struct {
	TaskID          string
	Provider        string
	ExecutionStatus ExecutionStatus
	FilesModified   []string
	DiffSummary     string
	Logs            string
	DurationMS      int64
	ArtifactsPath   string
	Error           string
	IsRateLimit     bool
}
