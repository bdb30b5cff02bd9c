package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the standardized JSON response envelope returned by every
// endpoint except /health. Data, Error and Meta are emitted as null when
// absent so the envelope shape stays stable across endpoints.
type APIResponse struct {
	Success bool            `json:"success"`
	Data    any             `json:"data"`
	Error   *string         `json:"error"`
	Message string          `json:"message"`
	Meta    *PaginationMeta `json:"meta"`
}

// PaginationMeta carries paging details for list responses.
type PaginationMeta struct {
	Total       int  `json:"total"`
	Limit       int  `json:"limit"`
	Page        int  `json:"page"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// NewPaginationMeta computes paging metadata for a list of total items.
func NewPaginationMeta(total, page, limit int) *PaginationMeta {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &PaginationMeta{
		Total:       total,
		Limit:       limit,
		Page:        page,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

// Success sends a successful JSON response with data.
func Success(c *gin.Context, statusCode int, data any, message string) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SuccessWithMeta sends a successful JSON response with pagination metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data any, message string, meta *PaginationMeta) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Data:    data,
		Message: message,
		Meta:    meta,
	})
}

// Error sends an error JSON response.
func Error(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error:   &message,
		Message: message,
	})
}

// HandleError inspects a domain error and sends the appropriate HTTP response.
// Uses errors.As to traverse the full error chain, supporting wrapped errors.
func HandleError(c *gin.Context, err error) {
	var notFound *NotFoundError
	var validation *ValidationError
	var unauthorized *UnauthorizedError
	var rateLimited *RateLimitError
	var unavailable *UnavailableError

	switch {
	case errors.As(err, &notFound):
		Error(c, http.StatusNotFound, notFound.Error())
	case errors.As(err, &validation):
		Error(c, http.StatusBadRequest, validation.Error())
	case errors.As(err, &unauthorized):
		Error(c, http.StatusUnauthorized, unauthorized.Error())
	case errors.As(err, &rateLimited):
		Error(c, http.StatusTooManyRequests, rateLimited.Error())
	case errors.As(err, &unavailable):
		Error(c, http.StatusServiceUnavailable, unavailable.Error())
	default:
		Error(c, http.StatusInternalServerError, "internal server error")
	}
}
