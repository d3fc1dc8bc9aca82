package models

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TimelapseStatus
		to      TimelapseStatus
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Processing", StatusPending, StatusProcessing, false},
		{"Pending to Failed", StatusPending, StatusFailed, false},
		{"Processing to Completed", StatusProcessing, StatusCompleted, false},
		{"Processing to Failed", StatusProcessing, StatusFailed, false},
		{"Pending to Completed", StatusPending, StatusCompleted, false},

		// Invalid transitions
		{"Processing to Pending", StatusProcessing, StatusPending, true},
		{"Completed to Failed", StatusCompleted, StatusFailed, true},
		{"Completed to Processing", StatusCompleted, StatusProcessing, true},
		{"Failed to Completed", StatusFailed, StatusCompleted, true},
		{"Failed to Pending", StatusFailed, StatusPending, true},
		{"Unknown source", TimelapseStatus("Exploded"), StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTransitionWrapsSentinel(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    TimelapseStatus
		expected bool
	}{
		{"Completed is terminal", StatusCompleted, true},
		{"Failed is terminal", StatusFailed, true},
		{"Pending is not terminal", StatusPending, false},
		{"Processing is not terminal", StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
			if got := IsActiveState(tt.state); got == tt.expected {
				t.Errorf("IsActiveState(%v) = %v, want %v", tt.state, got, !tt.expected)
			}
		})
	}
}

func TestSourceStates(t *testing.T) {
	tests := []struct {
		to   TimelapseStatus
		want []TimelapseStatus
	}{
		{StatusProcessing, []TimelapseStatus{StatusPending}},
		{StatusCompleted, []TimelapseStatus{StatusPending, StatusProcessing}},
		{StatusFailed, []TimelapseStatus{StatusPending, StatusProcessing}},
		{StatusPending, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			got := SourceStates(tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("SourceStates(%v) = %v, want %v", tt.to, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SourceStates(%v)[%d] = %v, want %v", tt.to, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if st, ok := ParseStatus("processing"); !ok || st != StatusProcessing {
		t.Errorf("ParseStatus(processing) = %v, %v", st, ok)
	}
	if _, ok := ParseStatus("cancelled"); ok {
		t.Error("ParseStatus accepted an unknown status")
	}
}

func TestUpdateApply(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	job := NewPendingTimelapse("job-1", GenerateRequest{CameraID: "cam-1"}, now)

	if job.FilePath != "" || job.FileSize != "0" || job.FileFormat != FileFormatMP4 {
		t.Fatalf("unexpected pending defaults: %+v", job)
	}

	ProcessingUpdate().Apply(job, now.Add(time.Second))
	if job.Status != StatusProcessing || job.StartedUTC == nil {
		t.Fatalf("processing not applied: %+v", job)
	}

	CompletedUpdate("timelapses/abc/video.mp4", "1024").Apply(job, now.Add(2*time.Second))
	if job.Status != StatusCompleted || job.FilePath != "timelapses/abc/video.mp4" || job.FileSize != "1024" {
		t.Fatalf("completed not applied: %+v", job)
	}
	if job.ErrorMessage != "" {
		t.Errorf("completed job carries error message %q", job.ErrorMessage)
	}
	if job.CompletedUTC == nil {
		t.Error("CompletedUTC not set")
	}
}

func TestFailedUpdateResetsArtifactFields(t *testing.T) {
	now := time.Now()
	job := NewPendingTimelapse("job-2", GenerateRequest{}, now)
	job.FilePath = "stale/video.mp4"
	job.FileSize = "99"

	FailedUpdate("").Apply(job, now)

	if job.Status != StatusFailed {
		t.Fatalf("status = %v, want Failed", job.Status)
	}
	if job.ErrorMessage != "unknown error" {
		t.Errorf("ErrorMessage = %q, want fallback", job.ErrorMessage)
	}
	if job.FilePath != "" || job.FileSize != "0" {
		t.Errorf("artifact fields not reset: path=%q size=%q", job.FilePath, job.FileSize)
	}
}
