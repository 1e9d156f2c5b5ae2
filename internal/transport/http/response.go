package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/pagination"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("not a participant of the consultation")
	ErrUnavailable  = errors.New("service unavailable")
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, toHTTP(err), envelope{
		"error": envelope{"code": errorCode(err), "message": err.Error()},
	})
}

func toHTTP(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, domain.ErrBadRequest),
		errors.Is(err, domain.ErrMissingConsultation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, pagination.ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return domain.Code(err)
	}
}
