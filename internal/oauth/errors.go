package oauth

import "net/http"

// Error is the structured OAuth protocol error: the standard
// error/error_description pair plus the HTTP status it maps to.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Standard error constructors.

func ErrInvalidRequest(description string) *Error {
	return &Error{Code: "invalid_request", Description: description, Status: http.StatusBadRequest}
}

func ErrInvalidClient(description string) *Error {
	return &Error{Code: "invalid_client", Description: description, Status: http.StatusUnauthorized}
}

func ErrInvalidGrant(description string) *Error {
	return &Error{Code: "invalid_grant", Description: description, Status: http.StatusBadRequest}
}

func ErrUnauthorizedClient(description string) *Error {
	return &Error{Code: "unauthorized_client", Description: description, Status: http.StatusBadRequest}
}

func ErrUnsupportedResponseType(description string) *Error {
	return &Error{Code: "unsupported_response_type", Description: description, Status: http.StatusBadRequest}
}

func ErrUnsupportedGrantType(description string) *Error {
	return &Error{Code: "unsupported_grant_type", Description: description, Status: http.StatusBadRequest}
}

func ErrInvalidScope(description string) *Error {
	return &Error{Code: "invalid_scope", Description: description, Status: http.StatusBadRequest}
}

func ErrServerError(description string) *Error {
	return &Error{Code: "server_error", Description: description, Status: http.StatusInternalServerError}
}
