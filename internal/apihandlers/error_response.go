package apihandlers

import (
	"net/http"

	"taxonomer/internal/services"

	"github.com/gin-gonic/gin"
)

// APIError defines standard error response
// Example: { "error": { "code": "invalid_input", "message": "spreadsheet_id is required" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// JSONError sends a structured error response
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.JSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

// Convenience wrappers
func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, services.CodeInvalidInput, msg)
}

func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, services.CodeNotFound, msg)
}

// RespondError maps a service error to its status and code.
func RespondError(ctx *gin.Context, err error) {
	code := services.ErrorCode(err)
	JSONError(ctx, statusForCode(code), code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case services.CodeInvalidInput, services.CodeUnsupportedMediaType:
		return http.StatusBadRequest
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeConflict:
		return http.StatusConflict
	case services.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case services.CodeEmbeddingProvider:
		return http.StatusBadGateway
	case services.CodeIndexNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
