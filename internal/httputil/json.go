package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/tracing"
)

// Response is the envelope of every successful API reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON encodes v with the given status. Encoding failures can only be
// reported by the caller's logs since the header is already sent.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps data in the success envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) error {
	return WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteError maps err to its HTTP status and the standard error body,
// tagged with the request id when one is known.
func WriteError(w http.ResponseWriter, r *http.Request, err error) error {
	requestID := tracing.GetRequestID(r.Context())
	return WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, requestID))
}

// DecodeJSON reads a size-limited JSON body into dst. Unknown fields and
// trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("request body too large (max %d bytes)", maxErr.Limit)).
				WithUserMessage("Request body too large")
		case stderrors.Is(err, io.EOF):
			return errors.New(errors.ErrCodeInvalidInput, "request body is empty").
				WithUserMessage("Request body is empty")
		default:
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed JSON body").
				WithUserMessage("Malformed JSON body")
		}
	}
	if dec.More() {
		return errors.New(errors.ErrCodeInvalidInput, "request body has trailing data").
			WithUserMessage("Malformed JSON body")
	}
	return nil
}
