package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"range-instance-backend/internal/lifecycle"
	"range-instance-backend/internal/orchestrator"
	"range-instance-backend/internal/store"
)

// ErrorResponse is the synchronous error payload shape.
type ErrorResponse struct {
	HTTPStatus int    `json:"httpStatus"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Path       string `json:"path"`
}

// Error codes surfaced to clients.
const (
	CodeInstanceNotFound     = "INSTANCE_NOT_FOUND"
	CodeInvalidInstanceState = "INVALID_INSTANCE_STATE"
	CodeProvisioningFailed   = "INSTANCE_PROVISIONING_FAILED"
	CodeOperationFailed      = "INSTANCE_OPERATION_FAILED"
	CodeConfigurationError   = "INSTANCE_CONFIGURATION_ERROR"
)

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		HTTPStatus: status,
		ErrorCode:  code,
		Message:    message,
		Path:       c.Request.URL.Path,
	})
}

// abortWithMapped translates an internal error into the typed payload.
// Only errors detectable before async dispatch ever reach this path; the
// rest flow through the progress channel as FAILED events.
func abortWithMapped(c *gin.Context, err error) {
	var invalid *lifecycle.InvalidTransitionError
	var cfgErr *orchestrator.ConfigurationError
	var provErr *orchestrator.ProvisioningError

	switch {
	case errors.Is(err, store.ErrInstanceNotFound):
		abortWithError(c, http.StatusNotFound, CodeInstanceNotFound, err.Error())
	case errors.Is(err, store.ErrRoomNotFound):
		abortWithError(c, http.StatusNotFound, CodeConfigurationError, err.Error())
	case errors.Is(err, orchestrator.ErrInstanceAlreadyExists):
		abortWithError(c, http.StatusConflict, CodeOperationFailed, err.Error())
	case errors.As(err, &invalid):
		abortWithError(c, http.StatusConflict, CodeInvalidInstanceState, err.Error())
	case errors.As(err, &cfgErr):
		abortWithError(c, http.StatusUnprocessableEntity, CodeConfigurationError, err.Error())
	case errors.As(err, &provErr):
		abortWithError(c, http.StatusInternalServerError, CodeProvisioningFailed, err.Error())
	default:
		abortWithError(c, http.StatusInternalServerError, CodeOperationFailed, err.Error())
	}
}
