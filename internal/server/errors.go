package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/export"
	"github.com/justdata-platform/justdata/internal/job"
	"github.com/justdata-platform/justdata/internal/model"
	"github.com/justdata-platform/justdata/internal/reportstore"
)

// errNotFinished maps to 409: the job exists but has not reached a
// terminal state, so no report can be served yet.
var errNotFinished = eris.New("server: job has not finished")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

// writeError maps err onto the engine-wide status codes and writes a
// JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, job.ErrNotFound), errors.Is(err, reportstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errNotFinished):
		status = http.StatusConflict
	case errors.Is(err, reportstore.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, export.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
