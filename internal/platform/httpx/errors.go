// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/importdesk/importdesk/internal/shared"
)

// RespondError maps workflow errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var classified *shared.Error
	detail := ""
	if errors.As(err, &classified) {
		detail = classified.Error()
	}
	switch shared.KindOf(err) {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", detail)
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", detail)
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", detail)
	case shared.KindInsufficientStock:
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", detail)
	default:
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
