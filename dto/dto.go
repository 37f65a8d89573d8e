package dto

import (
	"encoding/json"
	"time"

	"github.com/kelly-nie213/rallycoachAIDemo/constant"
	"github.com/kelly-nie213/rallycoachAIDemo/entities"
)

type SubmitVideoRequest struct {
	SourcePath string `json:"sourcePath"`
}

// JobResponse is the client view of a job. Analysis and AnnotatedPath
// are present only once the job has completed; while a job is pending,
// processing or failed they are omitted entirely.
type JobResponse struct {
	ID            uint               `json:"id"`
	SourcePath    string             `json:"sourcePath"`
	Status        constant.JobStatus `json:"status"`
	AnnotatedPath string             `json:"annotatedPath,omitempty"`
	Analysis      json.RawMessage    `json:"analysis,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	PollAfterMs   int64              `json:"pollAfterMs,omitempty"`
}

func NewJobResponse(job *entities.Job) JobResponse {
	resp := JobResponse{
		ID:         job.ID,
		SourcePath: job.SourcePath,
		Status:     job.Status,
		CreatedAt:  job.CreatedAt,
	}
	if job.Status == constant.JobStatusCompleted {
		resp.AnnotatedPath = job.AnnotatedPath
		resp.Analysis = json.RawMessage(job.Analysis)
		resp.Summary = job.Summary
	}
	if !job.Status.Terminal() {
		resp.PollAfterMs = constant.PollInterval.Milliseconds()
	}
	return resp
}

// JobEvent is published to the broker on every terminal transition.
type JobEvent struct {
	JobID         uint               `json:"jobId"`
	Status        constant.JobStatus `json:"status"`
	AnnotatedPath string             `json:"annotatedPath,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	OccurredAt    time.Time          `json:"occurredAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
