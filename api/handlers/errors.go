// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeError maps a session or profile error to its HTTP response.
func writeError(c *gin.Context, err error) {
	var (
		ve *model.ValidationError
		se *model.SetupError
		te *model.TeardownError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Code:    "VALIDATION_ERROR",
			Message: ve.Message,
			Details: map[string]interface{}{"field": ve.Field},
		}})
	case errors.Is(err, model.ErrCommandRequired):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrNotConnected):
		sendError(c, http.StatusConflict, "NOT_CONNECTED", "No active session")
	case errors.Is(err, model.ErrProfileNotFound):
		sendError(c, http.StatusNotFound, "PROFILE_NOT_FOUND", err.Error())
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: ErrorDetail{
			Code:    "SETUP_FAILED",
			Message: se.Error(),
			Details: map[string]interface{}{"step": string(se.Step)},
		}})
	case errors.As(err, &te):
		sendError(c, http.StatusInternalServerError, "TEARDOWN_FAILED", te.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
