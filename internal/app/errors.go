package app

import "fmt"

// DomainError is an operation failure that maps directly onto an HTTP
// response. Status is the response status, Code a stable identifier clients
// can branch on, and Message the human-readable text. Details optionally
// carries structured context, such as per-field validation problems.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// domainError covers the common detail-less case; the few callers that need
// Details set the field on the returned value.
func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}
