package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"memberpay/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a JSON API request body.
const maxRequestBodySize = 64 << 10 // 64 KB

// APIResponse is the envelope for successful API responses.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for error API responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data as the response body with the given status. A value that
// cannot be marshalled turns into a 500 error body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalUnexpected, "failed to marshal response", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response. A *types.AppError anywhere in the chain
// determines the status and code; any other error becomes a generic 500.
//
// Wrapped causes are never exposed to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil)
		return
	}
	writeError(w, r, appErr.HTTPStatus(), appErr.Code, appErr.Message, appErr.Details)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, msg string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}})
}

// DecodeJSON reads the request body into dst, enforcing a size limit, strict
// field matching, and a single JSON value. Failures are returned as
// validation_invalid_json AppErrors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidJSON(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidJSON, msg, err)
}

func decodeError(err error) *types.AppError {
	var (
		tooLarge  *http.MaxBytesError
		syntax    *json.SyntaxError
		wrongType *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON("request body is too large", err)
	case errors.As(err, &syntax):
		return invalidJSON("malformed JSON in request body", err)
	case errors.As(err, &wrongType):
		return invalidJSON("invalid value for field", err).WithDetails(map[string]any{
			"field":    wrongType.Field,
			"expected": wrongType.Type.String(),
		})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalidJSON("unknown field in request body: "+field, err)
	}
	return invalidJSON("invalid JSON in request body", err)
}
