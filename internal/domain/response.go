package domain

import (
	"fmt"
	"time"
)

// StatusUnknown is reported when neither a job nor a converted paper exists.
const StatusUnknown = "unknown"

// ConversionResponse is the payload returned for download and status requests.
type ConversionResponse struct {
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ResourceURI string     `json:"resource_uri,omitempty"`
}

// ReadyResponse reports a paper whose converted text is on disk.
func ReadyResponse(message, resourceURI string) *ConversionResponse {
	return &ConversionResponse{
		Status:      string(PhaseSucceeded),
		Message:     message,
		ResourceURI: resourceURI,
	}
}

// UnknownResponse reports a paper with no job and no converted text.
func UnknownResponse() *ConversionResponse {
	return &ConversionResponse{
		Status:  StatusUnknown,
		Message: "No download or conversion in progress",
	}
}

// ErrorResponse reports a request that could not be served.
func ErrorResponse(message string) *ConversionResponse {
	return &ConversionResponse{
		Status:  string(PhaseFailed),
		Message: message,
	}
}

// JobResponse reports a tracked job. resourceURI is attached only on success.
func JobResponse(s JobStatus, resourceURI string) *ConversionResponse {
	started := s.StartedAt
	resp := &ConversionResponse{
		Status:      string(s.Phase),
		Message:     fmt.Sprintf("Paper conversion %s", s.Phase),
		StartedAt:   &started,
		CompletedAt: s.CompletedAt,
		Error:       s.Error,
	}
	if s.Phase == PhaseSucceeded {
		resp.ResourceURI = resourceURI
	}
	return resp
}
