// Package mcp exposes document search, story generation and story history
// to MCP clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// MCP error codes. The -3200x range is application defined.
const (
	ErrCodeIndexNotFound    = -32001
	ErrCodeEmbeddingFailed  = -32002
	ErrCodeUnavailable      = -32003
	ErrCodeNotFound         = -32004
	ErrCodeInvalidRequest   = -32600
	ErrCodeMethodNotFound   = -32601
	ErrCodeInvalidParams    = -32602
	ErrCodeInternalError    = -32603
)

// MCPError is an error returned to MCP clients.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts err to an MCPError. Structured errors keep their message
// and suggestion; anything else is reported as an internal error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if e, ok := serrors.As(err); ok {
		return mapStructured(e)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeUnavailable, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeUnavailable, Message: "Request was canceled."}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

func mapStructured(e *serrors.Error) *MCPError {
	msg := e.Message
	if e.Suggestion != "" {
		msg += ". " + e.Suggestion
	}

	code := ErrCodeInternalError
	switch e.Code {
	case serrors.ErrCodeIndexNotFound, serrors.ErrCodeCorruptIndex:
		code = ErrCodeIndexNotFound
	case serrors.ErrCodeEmbeddingFailed:
		code = ErrCodeEmbeddingFailed
	case serrors.ErrCodeStoryNotFound, serrors.ErrCodeFileNotFound:
		code = ErrCodeNotFound
	default:
		switch e.Category {
		case serrors.CategoryValidation, serrors.CategoryFormat:
			code = ErrCodeInvalidParams
		case serrors.CategoryNetwork:
			code = ErrCodeUnavailable
		}
	}
	return &MCPError{Code: code, Message: msg}
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}
