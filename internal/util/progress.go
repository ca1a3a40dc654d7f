package util

import "fmt"

// Ingestion steps in the order a run goes through them.
const (
	StepIdle      = "idle"
	StepScanning  = "scanning"
	StepResetting = "resetting"
	StepIndexing  = "indexing"
	StepPersist   = "persisting"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// ProgressCounts is the raw state of an ingestion run.
type ProgressCounts struct {
	Step      string
	Total     int
	Completed int
	Failed    int
	// Milliseconds, zero when unknown.
	EstimatedDuration int64
	RemainingDuration int64
}

// IngestProgress is the API view of ProgressCounts.
type IngestProgress struct {
	Step              string `json:"step"`
	Documents         string `json:"documents,omitempty"`
	Failed            string `json:"failed,omitempty"`
	Percentage        int32  `json:"percentage"`
	EstimatedDuration *int64 `json:"estimated_duration_ms,omitempty"`
	TimeRemaining     *int64 `json:"time_remaining_ms,omitempty"`
}

func BuildIngestProgress(p ProgressCounts) IngestProgress {
	step := p.Step
	if step == "" {
		step = StepIdle
	}
	out := IngestProgress{Step: step, Percentage: CalculateIngestPercentage(p)}
	if p.Total > 0 {
		out.Documents = fmt.Sprintf("%d/%d", p.Completed, p.Total)
		if p.Failed > 0 {
			out.Failed = fmt.Sprintf("%d/%d", p.Failed, p.Total)
		}
	}
	if p.EstimatedDuration > 0 {
		out.EstimatedDuration = &p.EstimatedDuration
	}
	if p.RemainingDuration > 0 {
		out.TimeRemaining = &p.RemainingDuration
	}
	return out
}

// CalculateIngestPercentage weights document processing at 95% and the final
// graph persist at the remaining 5%. Failed documents count as done.
func CalculateIngestPercentage(p ProgressCounts) int32 {
	switch p.Step {
	case StepCompleted:
		return 100
	case StepIdle, StepScanning, StepResetting, "":
		return 0
	}
	if p.Total <= 0 {
		if p.Step == StepPersist {
			return 95
		}
		return 0
	}
	done := int64(min(p.Completed+p.Failed, p.Total))
	return int32(done * 95 / int64(p.Total))
}
