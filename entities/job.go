package entities

import (
	"time"

	"github.com/kelly-nie213/rallycoachAIDemo/constant"
)

// Job tracks one submitted video through the analysis pipeline.
// AnnotatedPath and Analysis are populated only on completion.
type Job struct {
	ID            uint               `json:"id"`
	SourcePath    string             `json:"source_path"`
	AnnotatedPath string             `json:"annotated_path"`
	Analysis      string             `json:"analysis"`
	Summary       string             `json:"summary"`
	Status        constant.JobStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}
