package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/dreamforge/pkg/falapi"
	"github.com/nerdneilsfield/dreamforge/pkg/hfapi"
)

var quotaWords = []string{"quota", "rate limit", "rate-limit", "too many requests"}

// Normalize maps any provider error onto an *Error. It returns nil for a nil error.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized
	}

	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return &Error{Reason: ReasonTimeout, Err: err}
	}

	var hfErr *hfapi.APIError
	if errors.As(err, &hfErr) {
		return &Error{Reason: classifyStatus(hfErr.StatusCode, hfErr.Message), Err: err}
	}

	var falErr *falapi.APIError
	if errors.As(err, &falErr) {
		return &Error{Reason: classifyStatus(falErr.StatusCode, falErr.Message()), Err: err}
	}

	var failed *falapi.FailedError
	if errors.As(err, &failed) {
		if containsQuotaWording(failed.Message) {
			return &Error{Reason: ReasonQuotaExceeded, Err: err}
		}
		return &Error{Reason: "generation failed: " + failed.Message, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, hfapi.ErrResponseTooLarge) || errors.Is(err, falapi.ErrResponseTooLarge) {
		return &Error{Reason: ReasonMalformed, Err: err}
	}

	return &Error{Reason: ReasonUnavailable, Err: err}
}

func classifyStatus(status int, message string) string {
	switch {
	case status == http.StatusTooManyRequests || containsQuotaWording(message):
		return ReasonQuotaExceeded
	case status == http.StatusServiceUnavailable:
		return ReasonModelLoading
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuthFailed
	case status >= 400 && status < 500:
		message = strings.TrimSpace(message)
		if message == "" {
			message = fmt.Sprintf("status %d", status)
		}
		return "rejected: " + truncate(message, 200)
	default:
		return ReasonUnavailable
	}
}

func containsQuotaWording(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range quotaWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func isNetTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Retryable reports whether a failure reason is transient.
func Retryable(reason string) bool {
	return reason == ReasonModelLoading || reason == ReasonUnavailable
}
