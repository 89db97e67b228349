package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUpload            = errors.New("upload failed")
	ErrConversionSubmit  = errors.New("conversion submit failed")
	ErrConversionFetch   = errors.New("conversion fetch failed")
	ErrMalformedResponse = errors.New("malformed response")
	ErrPredictionSubmit  = errors.New("prediction submit failed")
	ErrPredictionFetch   = errors.New("prediction fetch failed")
	ErrPredictionTimeout = errors.New("prediction did not succeed")
	ErrPredictionFailed  = errors.New("prediction failed")
	ErrSizeLimitExceeded = errors.New("file size exceeds the maximum allowed limit")
	ErrSessionNotFound   = errors.New("session not found")
	// ErrImageNotInSession rejects a result whose image is no longer listed,
	// typically because the session was reset while the pipeline ran.
	ErrImageNotInSession = errors.New("image not in session")
)

// RemoteError is a non-success answer from an external service. Kind is one
// of the sentinel errors above.
type RemoteError struct {
	Kind    error
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no details"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// PollError is returned when polling ends with any status other than
// succeeded. It always matches ErrPredictionTimeout; when the job reported
// failed it also matches ErrPredictionFailed.
type PollError struct {
	JobID    string
	Status   PredictionStatus
	Attempts int
	Reason   string
}

func (e *PollError) Error() string {
	if e.Status == PredictionFailed {
		reason := e.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Sprintf("prediction %s failed after %d fetches: %s", e.JobID, e.Attempts, reason)
	}
	return fmt.Sprintf("prediction %s still %q after %d fetches", e.JobID, e.Status, e.Attempts)
}

func (e *PollError) Unwrap() []error {
	if e.Status == PredictionFailed {
		return []error{ErrPredictionTimeout, ErrPredictionFailed}
	}
	return []error{ErrPredictionTimeout}
}

// SizeLimitError carries the estimate that tripped the limit.
type SizeLimitError struct {
	Estimated int64
	Max       int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%v: ~%d bytes > %d bytes", ErrSizeLimitExceeded, e.Estimated, e.Max)
}

func (e *SizeLimitError) Unwrap() error { return ErrSizeLimitExceeded }

// StepError records the pipeline step an error happened in.
type StepError struct {
	Step PipelineStep
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the pipeline step of err, if any.
func FailedStep(err error) (PipelineStep, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
