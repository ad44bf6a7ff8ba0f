package model

// SubmissionStatus represents the lifecycle state of a Submission.
// Transitions past SUBMITTED are driven by the external evaluation pipeline.
type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "SUBMITTED"
	StatusQueued    SubmissionStatus = "QUEUED"
	StatusStarting  SubmissionStatus = "STARTING"
	StatusRunning   SubmissionStatus = "RUNNING"
	StatusSucceeded SubmissionStatus = "SUCCEEDED"
	StatusFailed    SubmissionStatus = "FAILED"
	StatusTimeout   SubmissionStatus = "TIMEOUT"
	StatusCancelled SubmissionStatus = "CANCELLED"
)

// ActiveStatuses lists the non-terminal statuses, in lifecycle order.
var ActiveStatuses = []SubmissionStatus{StatusSubmitted, StatusQueued, StatusStarting, StatusRunning}

// TerminalStatuses lists every final status.
var TerminalStatuses = []SubmissionStatus{StatusSucceeded, StatusFailed, StatusTimeout, StatusCancelled}

// ResubmittableStatuses lists the statuses that free a model for another
// submission. Any other status, including ones the pipeline adds later, blocks.
var ResubmittableStatuses = []SubmissionStatus{StatusFailed, StatusCancelled}

// String returns the string representation of the status.
func (s SubmissionStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the submission is in a final state.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// IsActive returns true for statuses shown in the pending/running queue.
func (s SubmissionStatus) IsActive() bool {
	switch s {
	case StatusSubmitted, StatusQueued, StatusStarting, StatusRunning:
		return true
	}
	return false
}

// IsRunning returns true once the pipeline has picked the submission up.
func (s SubmissionStatus) IsRunning() bool {
	return s == StatusStarting || s == StatusRunning
}

// BlocksResubmission reports whether an existing submission in this status
// prevents a new submission of the same model. Only FAILED and CANCELLED
// free the model for another attempt.
func (s SubmissionStatus) BlocksResubmission() bool {
	for _, r := range ResubmittableStatuses {
		if s == r {
			return false
		}
	}
	return true
}

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// ValidSubmissionTransitions defines the allowed status transitions.
var ValidSubmissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusSubmitted: {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusStarting},
	StatusStarting:  {StatusRunning},
	StatusRunning:   {StatusSucceeded, StatusFailed, StatusTimeout},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, allowed := range ValidSubmissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ModelType selects how a submitted model reference is interpreted.
type ModelType string

const (
	// ModelTypeHosted is a model id on the hosting registry ("owner/name").
	ModelTypeHosted ModelType = "hf"
	// ModelTypeFile is a direct URL to a single quantized weights file.
	ModelTypeFile ModelType = "gguf"
)

// Valid reports whether t is a supported model type.
func (t ModelType) Valid() bool {
	return t == ModelTypeHosted || t == ModelTypeFile
}
