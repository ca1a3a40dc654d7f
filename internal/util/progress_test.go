package util

import "testing"

func TestCalculateIngestPercentage(t *testing.T) {
	tests := []struct {
		name string
		in   ProgressCounts
		want int32
	}{
		{name: "idle", in: ProgressCounts{}, want: 0},
		{name: "scanning", in: ProgressCounts{Step: StepScanning, Total: 4}, want: 0},
		{name: "half indexed", in: ProgressCounts{Step: StepIndexing, Total: 4, Completed: 2}, want: 47},
		{name: "failures count as done", in: ProgressCounts{Step: StepIndexing, Total: 4, Completed: 2, Failed: 2}, want: 95},
		{name: "over count clamps", in: ProgressCounts{Step: StepPersist, Total: 2, Completed: 5}, want: 95},
		{name: "empty corpus persisting", in: ProgressCounts{Step: StepPersist}, want: 95},
		{name: "completed", in: ProgressCounts{Step: StepCompleted, Total: 4, Completed: 1}, want: 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculateIngestPercentage(tc.in); got != tc.want {
				t.Fatalf("CalculateIngestPercentage() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBuildIngestProgress(t *testing.T) {
	p := BuildIngestProgress(ProgressCounts{Step: StepIndexing, Total: 3, Completed: 1, Failed: 1, RemainingDuration: 1500})
	if p.Documents != "1/3" || p.Failed != "1/3" {
		t.Fatalf("unexpected counts %+v", p)
	}
	if p.EstimatedDuration != nil || p.TimeRemaining == nil || *p.TimeRemaining != 1500 {
		t.Fatalf("unexpected durations %+v", p)
	}
	if BuildIngestProgress(ProgressCounts{}).Step != StepIdle {
		t.Fatal("empty step should report idle")
	}
}
