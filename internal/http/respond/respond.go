package respond

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/errs"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Code: status, Message: message})
}

// FromError maps an errs code to its HTTP status. data is attached only to
// partial sync responses, where the private write did happen.
func FromError(w http.ResponseWriter, err error, data any) {
	code := errs.CodeOf(err)
	status := Status(code)
	env := Envelope{Code: status, Message: err.Error(), Error: string(code)}
	switch {
	case code == errs.CodePartialSyncFailure:
		env.Data = data
	case status == http.StatusInternalServerError:
		zap.L().Error("request failed", zap.Error(err))
		env.Message = "internal error"
	}
	write(w, status, env)
}

// Status is the HTTP status for an error code.
func Status(code errs.Code) int {
	switch code {
	case errs.CodeUnauthorized:
		return http.StatusForbidden
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodePartialSyncFailure:
		return http.StatusMultiStatus
	case errs.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("respond: encode payload failed", zap.Error(err))
	}
}
