package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse represents the standard response envelope
// ALL API responses use this format
type APIResponse struct {
	Code    int         `json:"code"`    // HTTP status code (200, 400, 500, etc.)
	Message string      `json:"message"` // Human-readable message ("Success", error description)
	Data    interface{} `json:"data"`    // Actual payload (can be null)
}

// NewSuccessResponse creates a successful response (code 200)
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Code:    http.StatusOK,
		Message: "Success",
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// Common error responses
func BadRequestResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusUnauthorized, message)
}

func ServiceUnavailableResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, message)
}

func InternalErrorResponse(message string) APIResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

// respond writes resp with its own code as the HTTP status
func respond(c *gin.Context, resp APIResponse) {
	c.JSON(resp.Code, resp)
}

// abort is respond for middleware
func abort(c *gin.Context, resp APIResponse) {
	c.AbortWithStatusJSON(resp.Code, resp)
}
