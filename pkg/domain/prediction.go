package domain

// PredictionStatus is the status string reported by the prediction service.
// Only the two terminal values are interpreted; anything else is pending.
type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
)

// IsTerminal reports whether the status is succeeded or failed.
func (s PredictionStatus) IsTerminal() bool {
	return s == PredictionSucceeded || s == PredictionFailed
}

// PredictionJob is a snapshot of a remote caption prediction. Snapshots are
// replaced by re-fetching, never mutated in place.
type PredictionJob struct {
	ID     string           `json:"id"`
	Status PredictionStatus `json:"status"`
	Output string           `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// State maps the snapshot onto the generic job variant.
func (p PredictionJob) State() JobState {
	switch p.Status {
	case PredictionSucceeded:
		return Succeeded(p.Output)
	case PredictionFailed:
		reason := p.Error
		if reason == "" {
			reason = "prediction failed"
		}
		return Failed(reason)
	default:
		return Pending()
	}
}
