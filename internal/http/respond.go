package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"intake-assistant/internal/apperr"
)

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	msg := appErr.Message
	if appErr.HTTPStatus == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, appErr.HTTPStatus, errorBody{Error: errorDetail{
		Code:    appErr.Code,
		Message: msg,
		Details: appErr.Details,
	}})
}
