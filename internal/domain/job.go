package domain

import "time"

// Phase is the conversion phase of a paper job.
// Values double as the status strings reported to clients.
type Phase string

const (
	PhaseFetching   Phase = "downloading"
	PhaseConverting Phase = "converting"
	PhaseSucceeded  Phase = "success"
	PhaseFailed     Phase = "error"
)

// IsTerminal reports whether no further transition can leave the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// JobStatus is the tracked state of one conversion attempt for a paper.
// Tracker methods hand out copies; mutating one has no effect on the tracker.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	PaperID     string     `json:"paper_id"`
	Phase       Phase      `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ConversionJob is the persisted history row of a finished conversion attempt.
type ConversionJob struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	PaperID     string     `gorm:"type:text;not null;index" json:"paper_id"`
	Status      Phase      `gorm:"type:text;index" json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `json:"error_log,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name for ConversionJob.
func (ConversionJob) TableName() string {
	return "conversion_jobs"
}

// NewConversionJob builds the history row for a terminal job status.
func NewConversionJob(s JobStatus) *ConversionJob {
	job := &ConversionJob{
		ID:          s.JobID,
		PaperID:     s.PaperID,
		Status:      s.Phase,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		ErrorLog:    s.Error,
		CreatedAt:   time.Now(),
	}
	if s.CompletedAt != nil {
		job.DurationMs = s.CompletedAt.Sub(s.StartedAt).Milliseconds()
	}
	return job
}
