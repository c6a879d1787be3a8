package admin

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC7807 error response for the admin surface.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId"`
}

// Problem type URIs.
const (
	problemTypeValidation      = "https://failgate.dev/problems/validation-error"
	problemTypeUnauthorized    = "https://failgate.dev/problems/unauthorized"
	problemTypeTooManyRequests = "https://failgate.dev/problems/too-many-requests"
	problemTypeInternal        = "https://failgate.dev/problems/internal-error"
)

// NewValidationProblem creates a 400 problem.
func NewValidationProblem(traceID, detail string) *Problem {
	return &Problem{
		Type:    problemTypeValidation,
		Title:   "Validation Error",
		Status:  http.StatusBadRequest,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewUnauthorized creates a 401 problem.
func NewUnauthorized(traceID, detail string) *Problem {
	return &Problem{
		Type:    problemTypeUnauthorized,
		Title:   "Unauthorized",
		Status:  http.StatusUnauthorized,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return &Problem{
		Type:    problemTypeTooManyRequests,
		Title:   "Too Many Requests",
		Status:  http.StatusTooManyRequests,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return &Problem{
		Type:    problemTypeInternal,
		Title:   "Internal Server Error",
		Status:  http.StatusInternalServerError,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p) //nolint:errcheck // response already committed
}
