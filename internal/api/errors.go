package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/middleware"
)

var statusByCode = map[string]int{
	domain.ErrCodeInvalidInput:   http.StatusBadRequest,
	domain.ErrCodeValidation:     http.StatusBadRequest,
	domain.ErrCodeNotFound:       http.StatusNotFound,
	domain.ErrCodeConflict:       http.StatusConflict,
	domain.ErrCodeExternalAPI:    http.StatusBadGateway,
	domain.ErrCodeRateLimit:      http.StatusTooManyRequests,
	domain.ErrCodeAuthentication: http.StatusUnauthorized,
	domain.ErrCodeDatabase:       http.StatusInternalServerError,
}

var messageByCode = map[string]string{
	domain.ErrCodeInvalidInput:   "invalid input",
	domain.ErrCodeValidation:     "validation failed",
	domain.ErrCodeNotFound:       "resource not found",
	domain.ErrCodeConflict:       "resource already exists",
	domain.ErrCodeExternalAPI:    "upstream service unavailable",
	domain.ErrCodeDatabase:       "database error",
	domain.ErrCodeInternalServer: "internal server error",
	domain.ErrCodeRateLimit:      "rate limit exceeded",
	domain.ErrCodeAuthentication: "authentication failed",
}

// HTTPStatus maps an API error code to its HTTP status.
func HTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as an APIError. Server-side failures are logged
// and their details withheld from the client.
func (s *Server) respondError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := HTTPStatus(code)

	details := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": middleware.RequestID(c),
			"path":           c.FullPath(),
			"code":           code,
		}).WithError(err).Error("Request failed")
		details = ""
	}
	_ = c.Error(err)
	middleware.AbortWithError(c, status, code, messageByCode[code], details)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	middleware.AbortWithError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body", err.Error())
}
