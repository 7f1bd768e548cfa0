package httpdto

import kindred_errors "kindred-chat/pkg/errors"

// Response is the envelope every JSON endpoint returns.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(msg string, code string) Response[any] {
	return Response[any]{Error: msg, Code: code}
}

// FromError builds the error envelope and its HTTP status from a service error.
func FromError(err error) (int, Response[any]) {
	return kindred_errors.HTTPStatus(err), NewErrorResponse(err.Error(), kindred_errors.Code(err))
}
