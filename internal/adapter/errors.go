package adapter

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// PlatformError is an error reported by a platform API, already classified.
type PlatformError struct {
	Platform   string
	StatusCode int
	Code       string
	Message    string
	Kind       FailureKind
}

func (e *PlatformError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Platform, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

func newPlatformError(platform string, status int, code, message string) *PlatformError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &PlatformError{
		Platform:   platform,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Kind:       classifyStatus(status),
	}
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized:
		return FailureAuth
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return FailureTransient
	case status >= 400:
		return FailurePermanent
	}
	return FailureTransient
}

// Classify maps any error returned while talking to a platform onto a FailureKind.
// Anything not recognised is treated as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		for _, item := range ge.Errors {
			switch item.Reason {
			case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "backendError":
				return FailureTransient
			case "authError":
				return FailureAuth
			}
		}
		return classifyStatus(ge.Code)
	}

	return FailureTransient
}
