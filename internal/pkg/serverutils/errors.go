// FILE: internal/pkg/serverutils/errors.go
package serverutils

import "fmt"

// AppError is an error with the HTTP status it should be answered with.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewAppError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}
