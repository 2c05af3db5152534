package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-funding/internal/breakdown"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeUnprocessable      = "UNPROCESSABLE"
	ErrCodeStorageUnavailable = "STORAGE_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, types.ErrCampaignNotFound),
		errors.Is(err, types.ErrSettlementNotFound),
		errors.Is(err, types.ErrPayoutNotFound),
		errors.Is(err, types.ErrFundingTransactionNotFound),
		errors.Is(err, types.ErrAgreementNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrInvalidShareConfiguration),
		errors.Is(err, types.ErrNegativeNetAmount):
		Unprocessable(c, err.Error())
	case errors.Is(err, types.ErrInvalidPayoutTransition),
		errors.Is(err, types.ErrInvalidFundingTransition),
		errors.Is(err, types.ErrInvalidCampaignTransition),
		errors.Is(err, types.ErrCampaignNotAccepting):
		InvalidTransition(c, err.Error())
	case errors.Is(err, types.ErrInvalidCampaign),
		errors.Is(err, types.ErrInvalidFunding),
		errors.Is(err, breakdown.ErrInvalidInput):
		ValidationFailed(c, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	abort(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationFailed sends a 400 response for rejected input values
func ValidationFailed(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, ErrCodeValidationFailed, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	abort(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	abort(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	abort(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	abort(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	abort(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// InvalidTransition sends a 409 response for a rejected status change
func InvalidTransition(c *gin.Context, message string) {
	abort(c, http.StatusConflict, ErrCodeInvalidTransition, message)
}

// Unprocessable sends a 422 response for configurations that cannot be settled
func Unprocessable(c *gin.Context, message string) {
	abort(c, http.StatusUnprocessableEntity, ErrCodeUnprocessable, message)
}

func abort(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	var storageErr *types.StorageError
	if errors.As(err, &storageErr) {
		log.Error().Err(err).Str("op", storageErr.Op).Str("path", c.FullPath()).Msg("storage failure")
		abort(c, http.StatusInternalServerError, ErrCodeStorageUnavailable, "Storage temporarily unavailable")
		return
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
	InternalError(c, "An unexpected error occurred")
}
