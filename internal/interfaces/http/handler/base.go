package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/domain/shared"
	"github.com/shiplabel/backend/internal/domain/shipping"
	"github.com/shiplabel/backend/internal/interfaces/http/dto"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "request_id"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// labelErrorCode maps a workflow failure cause to its API error code
func labelErrorCode(cause shipping.ErrorCause) string {
	switch cause {
	case shipping.CausePurchaseError:
		return dto.ErrCodePurchase
	case shipping.CauseStatusError:
		return dto.ErrCodeStatus
	case shipping.CausePrintError:
		return dto.ErrCodePrint
	case shipping.CauseRefundError:
		return dto.ErrCodeRefund
	default:
		return dto.ErrCodeUnknown
	}
}

// HandleError converts workflow and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := getRequestID(c)

	var labelErr *shipping.LabelError
	if errors.As(err, &labelErr) {
		code := labelErrorCode(labelErr.Cause)
		message := ""
		if len(labelErr.Message) > 0 {
			message = labelErr.Message[0]
		}
		c.JSON(dto.GetHTTPStatus(code), dto.Response{
			Success: false,
			Error: &dto.ErrorInfo{
				Code:      code,
				Message:   message,
				Messages:  labelErr.Message,
				Actions:   labelErr.Actions,
				RequestID: requestID,
			},
		})
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		status := http.StatusInternalServerError
		switch domainErr.Code {
		case "NOT_FOUND":
			status = http.StatusNotFound
		case "INVALID_INPUT":
			status = http.StatusBadRequest
		case "INVALID_STATE", "ALREADY_EXISTS":
			status = http.StatusConflict
		case "UNAUTHORIZED":
			status = http.StatusUnauthorized
		case "FORBIDDEN":
			status = http.StatusForbidden
		}
		c.JSON(status, dto.NewErrorResponseWithRequestID("ERR_"+domainErr.Code, domainErr.Message, requestID))
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}
