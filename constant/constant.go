package constant

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

// CanTransition reports whether moving from s to next is a legal
// forward transition. Terminal states accept nothing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Engine output protocol. The inference engine prints one structured
// result block between the two markers; absent the block it must print
// the success token to be considered non-failed.
const (
	InferenceResultStartMarker = "INFERENCE_RESULT_JSON_START"
	InferenceResultEndMarker   = "INFERENCE_RESULT_JSON_END"
	InferenceSuccessToken      = "success.done"
)

// EmptyAnalysis is the analysis payload stored when the engine produced
// no parseable analysis document.
const EmptyAnalysis = "{}"

// PollInterval is the interval clients are told to re-read a job while
// it is still PENDING or PROCESSING.
const PollInterval = 2000 * time.Millisecond
