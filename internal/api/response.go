package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/recall/internal/domain"
)

// CodePayloadTooLarge is reported when a body exceeds the size limit. It has
// no domain error behind it.
const CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

// SuccessResponse is the envelope of every 2xx body
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:          http.StatusBadRequest,
	domain.ErrCodeInvalidScope:        http.StatusBadRequest,
	domain.ErrCodeInvalidDimension:    http.StatusBadRequest,
	domain.ErrCodeNotFound:            http.StatusNotFound,
	domain.ErrCodeAlreadyExists:       http.StatusConflict,
	domain.ErrCodeUnauthorized:        http.StatusUnauthorized,
	domain.ErrCodeProviderRejected:    http.StatusUnprocessableEntity,
	domain.ErrCodeProviderUnavailable: http.StatusServiceUnavailable,
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func ErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

// DomainErrorToHTTP maps the code of the first DomainError in err's chain.
// Anything else is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[domainErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes err as an error envelope. Internal errors are not echoed
// to the client.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	ErrorWithCode(w, status, domain.CodeOf(err), message)
}

// BodyError answers a request body that could not be read or parsed. A body
// cut off by http.MaxBytesReader is a 413, anything else a 400 with message.
func BodyError(w http.ResponseWriter, err error, message string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		ErrorWithCode(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
		return
	}
	Error(w, http.StatusBadRequest, message)
}
