package util

import (
	"errors"
	"net/http"

	"geosewa_exam/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every BFF endpoint answers with.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, MsgReauthenticate)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// HTTPStatus maps err to the status code the BFF answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAttemptLimitExceeded), errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrUnknownQuestion), errors.Is(err, ErrUnknownChoice):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrNoCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAttemptNotActive), errors.Is(err, ErrSubmitInProgress),
		errors.Is(err, ErrSubmitUnavailable), errors.Is(err, ErrTimeUp), errors.Is(err, ErrAttemptClosed):
		return http.StatusConflict
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrSaveFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ErrorFrom answers with the status and user-facing text for err.
func ErrorFrom(c *gin.Context, err error) {
	msg := UserMessage(err)
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		msg = MsgSessionNotFound
	case errors.Is(err, ErrAttemptNotActive), errors.Is(err, ErrSubmitInProgress),
		errors.Is(err, ErrSubmitUnavailable), errors.Is(err, ErrTimeUp), errors.Is(err, ErrAttemptClosed),
		errors.Is(err, ErrUnknownQuestion), errors.Is(err, ErrUnknownChoice):
		msg = err.Error()
	}
	ErrorWithMessage(c, err, msg)
}

// ErrorWithMessage answers with the status for err but a caller-chosen text.
func ErrorWithMessage(c *gin.Context, err error, msg string) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		logger.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	Error(c, code, msg)
}
