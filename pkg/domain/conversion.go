package domain

// ExportTaskName is the name of the conversion job step whose result carries
// the converted file URL.
const ExportTaskName = "export_png"

// ConversionStatus values reported by the conversion job service.
const (
	ConversionWaiting    = "waiting"
	ConversionProcessing = "processing"
	ConversionFinished   = "finished"
	ConversionError      = "error"
)

// ConversionJob is the transient handle of an SVG to PNG conversion. It only
// lives until OutputURL has been extracted.
type ConversionJob struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status,omitempty"`
	OutputURL string `json:"outputUrl,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (j ConversionJob) State() JobState {
	switch {
	case j.OutputURL != "":
		return Succeeded(j.OutputURL)
	case j.Status == ConversionError:
		return Failed(j.Message)
	default:
		return Pending()
	}
}
