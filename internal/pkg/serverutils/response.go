// FILE: internal/pkg/serverutils/response.go
package serverutils

import (
	"podcast-research-sync/internal/dto"
)

func SuccessResponse[T any](message string, data T) dto.BaseResponse[T] {
	return dto.BaseResponse[T]{
		Success: true,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(code int, message string) dto.BaseResponse[any] {
	return dto.BaseResponse[any]{
		Success: false,
		Code:    code,
		Message: message,
	}
}
