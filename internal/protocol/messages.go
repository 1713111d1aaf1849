package protocol

import "time"

// JobEvent announces a conversion lifecycle transition on the bus.
type JobEvent struct {
	ConversionID string    `json:"conversion_id"`
	Status       string    `json:"status"`
	VoiceID      string    `json:"voice_id,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectJobSubmitted = "conversion.submitted"
	SubjectJobCompleted = "conversion.completed"
	SubjectJobFailed    = "conversion.failed"
)

// SubjectFor maps a terminal or initial status to its bus subject.
func SubjectFor(status string) string {
	switch status {
	case "completed":
		return SubjectJobCompleted
	case "failed":
		return SubjectJobFailed
	default:
		return SubjectJobSubmitted
	}
}
