package domain

// PipelineStep names a state of the per-image pipeline.
type PipelineStep string

const (
	StepUploading  PipelineStep = "uploading"
	StepConverting PipelineStep = "converting"
	StepPredicting PipelineStep = "predicting"
	StepPolling    PipelineStep = "polling"
	StepEnriching  PipelineStep = "enriching"
	StepAppended   PipelineStep = "appended"
	StepFailed     PipelineStep = "failed"
)

// PipelineRun is returned when a pipeline is started asynchronously.
type PipelineRun struct {
	RunID     string `json:"runId"`
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName,omitempty"`
}
