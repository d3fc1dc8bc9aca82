package models

import (
	"strings"
	"time"
)

const (
	maxSearchLength   = 256
	maxCameraIDLength = 128
	maxQualityLength  = 32
)

// GenerateRequest asks for a timelapse built from stored frames.
// Nil overrides fall back to the quality tier's values.
type GenerateRequest struct {
	Search    string     `json:"search,omitempty"`
	CameraID  string     `json:"cameraId,omitempty"`
	FromUTC   *time.Time `json:"fromUtc,omitempty"`
	ToUTC     *time.Time `json:"toUtc,omitempty"`
	Quality   string     `json:"quality,omitempty"`
	FPS       *int       `json:"fps,omitempty"`
	Width     *int       `json:"width,omitempty"`
	MaxFrames *int       `json:"maxFrames,omitempty"`
}

// Normalize trims free-text fields in place.
func (r *GenerateRequest) Normalize() {
	r.Search = strings.TrimSpace(r.Search)
	r.CameraID = strings.TrimSpace(r.CameraID)
	r.Quality = strings.TrimSpace(r.Quality)
}

// Validate checks the request is structurally usable. Numeric overrides are
// not rejected here: the profile resolver clamps them.
func (r GenerateRequest) Validate() error {
	if len(r.Search) > maxSearchLength {
		return &ValidationError{Field: "search", Message: "must be at most 256 characters"}
	}
	if len(r.CameraID) > maxCameraIDLength {
		return &ValidationError{Field: "cameraId", Message: "must be at most 128 characters"}
	}
	if len(r.Quality) > maxQualityLength {
		return &ValidationError{Field: "quality", Message: "must be at most 32 characters"}
	}
	if r.FromUTC != nil && r.FromUTC.IsZero() {
		return &ValidationError{Field: "fromUtc", Message: "must be a valid timestamp"}
	}
	if r.ToUTC != nil && r.ToUTC.IsZero() {
		return &ValidationError{Field: "toUtc", Message: "must be a valid timestamp"}
	}
	if r.FromUTC != nil && r.ToUTC != nil && r.ToUTC.Before(*r.FromUTC) {
		return &ValidationError{Field: "toUtc", Message: "must not be before fromUtc"}
	}
	return nil
}

// Selection converts the request's filter fields into a frame query.
func (r GenerateRequest) Selection(limit int) FrameSelection {
	return FrameSelection{
		Search:   r.Search,
		CameraID: r.CameraID,
		FromUTC:  utcPtr(r.FromUTC),
		ToUTC:    utcPtr(r.ToUTC),
		Limit:    limit,
	}
}
