package models

import (
	"time"
)

// TimelapseStatus represents the lifecycle state of a timelapse job
type TimelapseStatus string

const (
	StatusPending    TimelapseStatus = "Pending"
	StatusProcessing TimelapseStatus = "Processing"
	StatusCompleted  TimelapseStatus = "Completed"
	StatusFailed     TimelapseStatus = "Failed"
)

// FileFormatMP4 is the only container the encoder produces
const FileFormatMP4 = "mp4"

// ContentTypeMP4 is the MIME type served for FileFormatMP4 artifacts
const ContentTypeMP4 = "video/mp4"

// Timelapse is a single requested generation attempt. The row is persisted
// independently of the video file it eventually points at.
type Timelapse struct {
	ID           string          `json:"id"`
	FilePath     string          `json:"filePath"`
	FileFormat   string          `json:"fileFormat"`
	FileSize     string          `json:"fileSize"`
	Status       TimelapseStatus `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedUTC   time.Time       `json:"createdUtc"`
	StartedUTC   *time.Time      `json:"startedUtc,omitempty"`
	CompletedUTC *time.Time      `json:"completedUtc,omitempty"`

	// Audit fields copied from the generation request
	Quality  string     `json:"quality,omitempty"`
	Search   string     `json:"search,omitempty"`
	CameraID string     `json:"cameraId,omitempty"`
	FromUTC  *time.Time `json:"fromUtc,omitempty"`
	ToUTC    *time.Time `json:"toUtc,omitempty"`
}

// NewPendingTimelapse builds the row the dispatcher persists before scheduling work.
func NewPendingTimelapse(id string, req GenerateRequest, now time.Time) *Timelapse {
	return &Timelapse{
		ID:         id,
		FilePath:   "",
		FileFormat: FileFormatMP4,
		FileSize:   "0",
		Status:     StatusPending,
		CreatedUTC: now.UTC(),
		Quality:    req.Quality,
		Search:     req.Search,
		CameraID:   req.CameraID,
		FromUTC:    utcPtr(req.FromUTC),
		ToUTC:      utcPtr(req.ToUTC),
	}
}

// TimelapseUpdate carries the fields a state transition writes.
// Nil pointers leave the stored value untouched.
type TimelapseUpdate struct {
	Status       TimelapseStatus
	FilePath     *string
	FileFormat   *string
	FileSize     *string
	ErrorMessage string
}

// ProcessingUpdate marks a job as picked up by a runner.
func ProcessingUpdate() TimelapseUpdate {
	return TimelapseUpdate{Status: StatusProcessing}
}

// CompletedUpdate records the produced artifact.
func CompletedUpdate(relPath, size string) TimelapseUpdate {
	format := FileFormatMP4
	return TimelapseUpdate{
		Status:     StatusCompleted,
		FilePath:   &relPath,
		FileFormat: &format,
		FileSize:   &size,
	}
}

// FailedUpdate records a terminal failure. Path and size are reset so they
// never carry meaning outside the Completed state.
func FailedUpdate(message string) TimelapseUpdate {
	empty, zero := "", "0"
	if message == "" {
		message = "unknown error"
	}
	return TimelapseUpdate{
		Status:       StatusFailed,
		FilePath:     &empty,
		FileSize:     &zero,
		ErrorMessage: message,
	}
}

// Apply writes the update onto t. Callers validate the transition first.
func (u TimelapseUpdate) Apply(t *Timelapse, now time.Time) {
	now = now.UTC()
	t.Status = u.Status
	if u.FilePath != nil {
		t.FilePath = *u.FilePath
	}
	if u.FileFormat != nil {
		t.FileFormat = *u.FileFormat
	}
	if u.FileSize != nil {
		t.FileSize = *u.FileSize
	}
	if u.Status == StatusFailed {
		t.ErrorMessage = u.ErrorMessage
	} else {
		t.ErrorMessage = ""
	}
	switch {
	case u.Status == StatusProcessing:
		t.StartedUTC = &now
	case IsTerminalState(u.Status):
		t.CompletedUTC = &now
	}
}

// Frame is a captured still image available for timelapse assembly
type Frame struct {
	ID                  string    `json:"id"`
	CameraID            string    `json:"cameraId"`
	Label               string    `json:"label"`
	ImagePath           string    `json:"imagePath"`
	CaptureTimestampUTC time.Time `json:"captureTimestampUtc"`
}

// FrameSelection narrows the frame sequence used for one encode
type FrameSelection struct {
	Search   string
	CameraID string
	FromUTC  *time.Time
	ToUTC    *time.Time
	Limit    int
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
