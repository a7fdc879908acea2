package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"skillbarter/apperr"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeReason(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, envelope{Success: false, Reason: reason})
}

var errBadBody = apperr.New(apperr.KindValidation, "request body is not valid JSON")

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindValidation, "request body is required")
		}
		return errBadBody
	}
	return nil
}

// statusFor maps an error category onto an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindPreconditionFailed, apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the reason of a classified error. Unclassified
// errors are logged and hidden behind a generic reason.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var classified *apperr.Error
	if !errors.As(err, &classified) {
		s.logger.Error("request failed", "module", "http", "operation", op,
			"request_id", requestIDFromContext(r.Context()), "error", err)
		writeReason(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.logger.Enabled(r.Context(), slog.LevelDebug) {
		s.logger.Debug("request rejected", "module", "http", "operation", op, "outcome", classified.Kind().String(), "error", err)
	}
	writeReason(w, statusFor(classified.Kind()), classified.Error())
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
