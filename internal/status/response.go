package status

import (
	"encoding/json"
	"errors"
	"net/http"

	"stormsync/internal/types"
)

// errorResponse is the error envelope for the status API.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes data with the given status. A marshal failure degrades to
// a plain 500 envelope.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "failed to marshal response",
		}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes an error response. AppErrors keep their code and message
// and map to their HTTP status; anything else becomes an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.HTTPStatus(), errorResponse{Error: errorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
		}})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorDetail{
		Code:    string(types.ErrCodeInternalUnexpected),
		Message: "an unexpected error occurred",
	}})
}
