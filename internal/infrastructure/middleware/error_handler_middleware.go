package middleware

import (
	stderrors "errors"
	"net/http"

	"cdnpulse/internal/core/domain"
	"cdnpulse/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders errors attached with c.Error as JSON.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			appErr = fromDomain(err)
		}
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			appErr = errors.WrapError(err, errors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
		} else if appErr.HTTPStatus >= 500 {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"cause", appErr.Cause,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(appErr.HTTPStatus, appErr.Response())
	}
}

// fromDomain maps sentinel domain errors to their API form.
func fromDomain(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrStreamNotFound):
		return errors.NewNotFoundError("stream")
	case stderrors.Is(err, domain.ErrInsufficientHistory):
		return errors.NewInsufficientDataError(err.Error())
	case stderrors.Is(err, domain.ErrInvalidSubmission):
		return errors.NewInvalidInputError(err.Error())
	case stderrors.Is(err, domain.ErrStoreUnavailable):
		return errors.WrapError(err, errors.ErrCodeServiceUnavailable, "history store unavailable", http.StatusServiceUnavailable)
	}
	return nil
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				appErr := errors.NewInternalError("Internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			}
		}()

		c.Next()
	}
}
