package domain

// JobKind tags the variant held by a JobState.
type JobKind string

const (
	JobPending   JobKind = "PENDING"
	JobSucceeded JobKind = "SUCCEEDED"
	JobFailed    JobKind = "FAILED"
)

// JobState is the state of a remote asynchronous job: Pending, Succeeded with
// a payload, or Failed with a reason. Payload is only set for Succeeded and
// Reason only for Failed.
type JobState struct {
	Kind    JobKind `json:"kind"`
	Payload string  `json:"payload,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func Pending() JobState { return JobState{Kind: JobPending} }

func Succeeded(payload string) JobState { return JobState{Kind: JobSucceeded, Payload: payload} }

func Failed(reason string) JobState { return JobState{Kind: JobFailed, Reason: reason} }

func (s JobState) IsTerminal() bool { return s.Kind == JobSucceeded || s.Kind == JobFailed }
