package api

import (
	"errors"
	"net/http"

	"github.com/nugget/prenatal-clinic/internal/apperr"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// fail writes err as a JSON error. fallback is the error text used when
// err is unclassified, naming what the handler was doing.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	body := errorBody{Error: fallback}

	switch kind {
	case apperr.GatewayUnavailable, apperr.GatewayTimeout:
		body.Error = "AI service temporarily unavailable"
		body.Message = "Please try again in a moment"
	case apperr.GatewayBadRequest:
		body.Error = "Invalid request format"
		if e, ok := apperr.As(err); ok {
			body.Details = e.Details
		}
	case apperr.StoreUnavailable:
		body.Error = "Database service unavailable"
		body.Message = "Please try again later"
	case apperr.Internal:
		body.Message = "Something went wrong"
		if s.opts.Development {
			body.Message = err.Error()
		}
	default:
		if e, ok := apperr.As(err); ok {
			body.Error = e.Message
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body, s.logger)
}

// bodyError classifies a request body decode failure.
func (s *Server) bodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Request entity too large"}, s.logger)
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body", Details: err.Error()}, s.logger)
}
