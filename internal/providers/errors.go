package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paperchat/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// StatusError is a non-2xx reply from a provider API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Body)
}

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			if strings.Contains(strings.ToLower(se.Body), "quota") {
				return ErrorQuota
			}
			return ErrorRate
		case se.Code >= 500:
			return ErrorTransient
		}
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "context_length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection reset"), strings.Contains(e, "connection refused"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether the same call may succeed after a backoff.
func Retryable(t ErrorType) bool {
	return t == ErrorRate || t == ErrorTransient
}

func sentinel(t ErrorType) error {
	switch t {
	case ErrorQuota:
		return util.ErrQuotaExhausted
	case ErrorRate:
		return util.ErrRateLimited
	case ErrorTransient:
		return util.ErrTransient
	case ErrorContext:
		return util.ErrContextTooLong
	default:
		return util.ErrPermanent
	}
}
