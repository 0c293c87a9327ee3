package api

import (
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// ErrorBody is the payload of every error response, wrapped as {"error": ErrorBody}.
type ErrorBody struct {
	Code           string      `json:"code"`
	Message        string      `json:"message"`
	Classification domain.Kind `json:"classification"`
	RequestID      string      `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, r *http.Request, status int, code string, kind domain.Kind, message string) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{
		Code:           code,
		Message:        message,
		Classification: kind,
		RequestID:      chiMiddleware.GetReqID(r.Context()),
	}})
}

// statusOf maps an error kind to its HTTP status and error code.
func statusOf(kind domain.Kind) (int, string) {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound, "SessionNotFound"
	case domain.KindExpired:
		return http.StatusGone, "SessionExpired"
	case domain.KindInvalidStep:
		return http.StatusConflict, "InvalidStep"
	case domain.KindInvalidInput:
		return http.StatusUnprocessableEntity, "ValidationError"
	case domain.KindUpstream:
		return http.StatusBadGateway, "AIServiceError"
	default:
		return http.StatusInternalServerError, "InternalServerError"
	}
}

// writeError classifies err and writes the matching response. Internal
// errors are logged with their detail and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, code := statusOf(kind)
	message := err.Error()

	attrs := []any{
		"error", err,
		"classification", kind,
		"path", r.URL.Path,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", attrs...)
		if kind == domain.KindInternal {
			message = "internal error"
		}
	} else {
		h.logger.Warn("Request rejected", attrs...)
	}
	Error(w, r, status, code, kind, message)
}

func logAttr(r *http.Request) slog.Attr {
	return slog.String("request_id", chiMiddleware.GetReqID(r.Context()))
}
