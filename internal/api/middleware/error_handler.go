// Package middleware provides HTTP middleware for Tollgate.
//
// Import Path: tollgate.io/tollgate/internal/api/middleware
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Params      map[string]interface{} `json:"params,omitempty"`
	FieldErrors []apperrors.FieldError `json:"field_errors,omitempty"`
}

// ErrorHandler is a Gin middleware that provides centralized error handling.
// It captures errors added via c.Error() and returns a consistent JSON response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		rid := GetRequestID(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fields := []zap.Field{
				zap.String("request_id", rid),
				zap.String("code", appErr.Code),
				zap.Int("status", appErr.HTTPStatus),
			}
			if appErr.Err != nil {
				fields = append(fields, zap.Error(appErr.Err))
			}
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error("Request failed", fields...)
			} else {
				logger.Debug("Request rejected", fields...)
			}
			c.JSON(appErr.HTTPStatus, ErrorResponse{
				Code:        appErr.Code,
				Message:     appErr.Message,
				Params:      appErr.Params,
				FieldErrors: appErr.FieldErrors,
			})
			return
		}

		logger.Error("Unhandled request error",
			zap.String("request_id", rid),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    apperrors.CodeInternal,
			Message: "An internal error occurred",
		})
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
