package handler

import "github.com/fleetbill/backend/internal/interfaces/http/dto"

// APIResponse is the envelope every billing endpoint answers with. It only
// exists as a generic type so swag can emit a concrete schema per handler;
// the runtime envelope lives in dto.Response.
// @Description Standard API response wrapper with typed data field
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse documents the failure envelope.
// @Description Standard error response
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
}
