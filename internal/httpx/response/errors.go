package response

import (
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/webalive/workerspawn/internal/sentryx"
)

// Error writes {"error": message} with statusCode and, for 5xx status codes,
// reports it to Sentry at error level so they are visible without grepping
// logs.
func Error(w http.ResponseWriter, statusCode int, message string) {
	if statusCode >= http.StatusInternalServerError {
		sentryx.CaptureMessage(sentry.LevelError, "http_error status=%d message=%s", statusCode, message)
	}
	JSON(w, statusCode, map[string]string{"error": message})
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	Error(w, http.StatusUnauthorized, message)
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	Error(w, http.StatusNotFound, message)
}

func TooManyRequests(w http.ResponseWriter, message string) {
	if message == "" {
		message = "rate limit exceeded"
	}
	Error(w, http.StatusTooManyRequests, message)
}

func Internal(w http.ResponseWriter, err error) {
	sentryx.CaptureError(err, "internal server error")
	Error(w, http.StatusInternalServerError, "internal server error")
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "service unavailable"
	}
	Error(w, http.StatusServiceUnavailable, message)
}
